package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"enginesound/server/internal/recorder"
	sessionplayer "enginesound/server/tools/session_player"
)

func main() {
	path := flag.String("path", "", "Path to a session directory or manifest.json")
	list := flag.String("list", "", "List every session under this directory")
	summary := flag.Bool("summary", false, "Print a summary instead of the full bundle")
	flag.Parse()

	var payload any
	switch {
	case *list != "":
		entries, err := sessionplayer.List(*list)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		payload = entries
	case *path != "":
		bundle, err := recorder.ReadBundle(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		payload = bundle
		if *summary {
			payload = sessionplayer.Summarize(bundle)
		}
	default:
		fmt.Fprintln(os.Stderr, "path or list flag is required")
		os.Exit(1)
	}

	//1.- Render as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
