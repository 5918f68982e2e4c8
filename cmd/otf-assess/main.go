package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"

	otfassess "github.com/nsip/otf-assess"
	"github.com/peterbourgon/ff/v3"
)

func main() {

	fs := flag.NewFlagSet("otf-assess", flag.ExitOnError)
	var (
		_           = fs.String("config", "", "config file (optional), json format.")
		serviceName = fs.String("name", "", "name for this assessment sync service instance")
		serviceID   = fs.String("id", "", "id for this assessment sync service instance, leave blank to auto-generate a unique id")
		serviceHost = fs.String("host", "localhost", "name/address of host for this service")
		servicePort = fs.Int("port", 0, "port to run service on, if not specified will assign an available port automatically")
		stateDir    = fs.String("stateDir", "", "directory to persist the question map and package library in, leave blank to keep state in memory")
		logLevel    = fs.String("logLevel", "info", "log verbosity: debug, info, warn, error or off")
		bodyLimit   = fs.String("bodyLimit", "8M", "largest assessment index accepted in a request body")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.JSONParser),
		ff.WithEnvVarPrefix("OTF_ASSESS"),
	); err != nil {
		fmt.Printf("\nCannot read otf-assess configuration:\n%s\n\n", err)
		return
	}

	opts := []otfassess.Option{
		otfassess.Name(*serviceName),
		otfassess.ID(*serviceID),
		otfassess.Host(*serviceHost),
		otfassess.Port(*servicePort),
		otfassess.StateDir(*stateDir),
		otfassess.LogLevel(*logLevel),
		otfassess.BodyLimit(*bodyLimit),
	}

	srvc, err := otfassess.New(opts...)
	if err != nil {
		fmt.Printf("\nCannot create otf-assess service:\n%s\n\n", err)
		return
	}

	srvc.PrintConfig()

	// signal handler for shutdown
	closed := make(chan struct{})
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		fmt.Println("\notf-assess shutting down")
		srvc.Shutdown()
		fmt.Println("otf-assess closed")
		close(closed)
	}()

	srvc.Start()

	// block until shutdown by sig-handler
	<-closed

}
