package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	offlinecache "github.com/offline-cache/offline-cache"
)

// control messages by CLI command name
var messages = map[string]string{
	"size":             offlinecache.MessageGetCacheSize,
	"clear":            offlinecache.MessageClearCache,
	"skip-waiting":     offlinecache.MessageSkipWaiting,
	"offline-requests": offlinecache.MessageGetOfflineRequests,
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Address of the running offline-cache")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <command>\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Commands: size, clear, skip-waiting, offline-requests, sync, status")
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		flag.Usage()
		os.Exit(1)
	}

	var res *http.Response
	var err error
	switch command {
	case "sync":
		res, err = postJSON(*addr+offlinecache.ControlPrefix+"/sync",
			map[string]string{"tag": offlinecache.SyncTag})
	case "status":
		res, err = http.Get(*addr + offlinecache.ControlPrefix + "/status")
	default:
		msgType, ok := messages[command]
		if !ok {
			flag.Usage()
			os.Exit(1)
		}
		res, err = postJSON(*addr+offlinecache.ControlPrefix+"/message",
			offlinecache.ControlMessage{Type: msgType})
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer res.Body.Close()

	io.Copy(os.Stdout, res.Body)
	if res.StatusCode >= 400 {
		os.Exit(1)
	}
}

func postJSON(url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return http.Post(url, "application/json", bytes.NewReader(body))
}
