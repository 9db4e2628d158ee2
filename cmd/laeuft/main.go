package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const usage = `usage: laeuft [flags] <command>

commands:
  status      monitor state, rolling latency, last speed test
  tracker     tracker view: mode, heartbeat age, outage if any
  incidents   open and recent incidents from the tracker
  events      recent raw events from the tracker
  speedtest   trigger a speed test on the monitor

flags:
`

func main() {
	monitorAddr := flag.String("monitor", "http://127.0.0.1:8080", "monitor base URL")
	trackerAddr := flag.String("tracker", "http://127.0.0.1:5000", "tracker base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: *timeout}

	var err error
	switch flag.Arg(0) {
	case "status":
		err = printJSON(client, *monitorAddr+"/status")
	case "tracker":
		err = printJSON(client, *trackerAddr+"/api/status")
	case "incidents":
		err = printJSON(client, *trackerAddr+"/api/incidents")
	case "events":
		err = printJSON(client, *trackerAddr+"/api/events")
	case "speedtest":
		err = triggerSpeedTest(client, *monitorAddr)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "laeuft: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		// Not JSON, print as is.
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

func triggerSpeedTest(client *http.Client, addr string) error {
	resp, err := client.Post(addr+"/api/speedtest/run", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Println("speed test started")
	case http.StatusConflict:
		fmt.Println("a speed test is already running")
	default:
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return nil
}
