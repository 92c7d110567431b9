// Command blipcat is a small end-to-end exercise of a BLIP connection over
// a live WebSocket.
//
// Server mode answers every request by echoing its body back:
//
//	blipcat -listen :8080
//
// Client mode sends one request per line of stdin and prints each reply:
//
//	echo "hello" | blipcat -url ws://localhost:8080/blip
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/coregx/blip/blip"
	wstransport "github.com/coregx/blip/transport/websocket"
)

func main() {
	var (
		listenAddr = flag.String("listen", "", "serve an echo responder on this address")
		url        = flag.String("url", "", "dial this ws:// URL and send stdin lines as requests")
		urgent     = flag.Bool("urgent", false, "mark client requests urgent")
		compress   = flag.Bool("compress", false, "send client request bodies compressed")
		verbose    = flag.Bool("v", false, "log connection lifecycle and errors")
	)
	flag.Parse()

	log := zerolog.Nop()
	if *verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	switch {
	case *listenAddr != "":
		runServer(*listenAddr, log)
	case *url != "":
		runClient(*url, log, *urgent, *compress)
	default:
		fmt.Fprintln(os.Stderr, "blipcat: need -listen or -url")
		flag.Usage()
		os.Exit(2)
	}
}

func runServer(addr string, log zerolog.Logger) {
	echo := blip.ConnectionListenerFuncs{
		Request: func(_ *blip.Connection, req *blip.Message) {
			reply, err := req.NewResponse()
			if err != nil {
				return // NOREPLY request
			}
			_ = reply.SetBody(req.Body())
			if profile, ok := req.Properties().Get("Profile"); ok {
				_ = reply.SetProperty("Profile", profile)
			}
			if _, err := reply.Send(); err != nil {
				log.Error().Err(err).Msg("echo reply failed")
			}
		},
	}

	listener := wstransport.NewListener(nil, wstransport.ListenerOptions{
		Logger: log,
		ConnectionOptions: []blip.Option{
			blip.WithListener(&echo),
			blip.WithLogger(log),
		},
	})

	log.Info().Str("addr", addr).Msg("blipcat echo server listening")
	mux := http.NewServeMux()
	mux.Handle("/blip", listener)
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "blipcat: %v\n", err)
		os.Exit(1)
	}
}

func runClient(url string, log zerolog.Logger, urgent, compress bool) {
	conn, err := wstransport.Dial(url,
		wstransport.DialOptions{HandshakeTimeout: 10 * time.Second},
		blip.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "blipcat: dial: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		req := conn.NewRequest()
		_ = req.SetProperty("Profile", "echo")
		_ = req.SetUrgent(urgent)
		_ = req.SetCompressed(compress)
		if err := req.SetBody(append([]byte(nil), scanner.Bytes()...)); err != nil {
			fmt.Fprintf(os.Stderr, "blipcat: %v\n", err)
			os.Exit(1)
		}

		replyCh := make(chan *blip.Message, 1)
		req.SetReplyListener(blip.ReplyListenerFunc(func(msg *blip.Message) { replyCh <- msg }))
		if _, err := req.Send(); err != nil {
			fmt.Fprintf(os.Stderr, "blipcat: send: %v\n", err)
			os.Exit(1)
		}

		select {
		case reply := <-replyCh:
			if cause := reply.CloseCause(); cause != nil {
				fmt.Fprintf(os.Stderr, "blipcat: connection closed: %v\n", cause)
				os.Exit(1)
			}
			if reply.Type() == blip.TypeError {
				code, domain, _ := reply.ToError()
				fmt.Fprintf(os.Stderr, "blipcat: error reply %s/%d\n", domain, code)
				continue
			}
			fmt.Printf("%s\n", reply.Body())
		case <-time.After(30 * time.Second):
			fmt.Fprintln(os.Stderr, "blipcat: timed out waiting for reply")
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "blipcat: stdin: %v\n", err)
		os.Exit(1)
	}
}
