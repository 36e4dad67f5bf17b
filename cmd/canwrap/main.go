package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/samsamfire/gocanwrap/cmd/canwrap/cmd"
	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		log.Infof("got %v, exiting", s)
		cancel()
		// Failsafe if a backend hangs on close
		<-time.After(10 * time.Second)
		log.Fatal("took too long to shutdown, forcefully exiting")
	}()
	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
