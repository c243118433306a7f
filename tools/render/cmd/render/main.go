package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"enginesound/server/internal/audio"
)

// defaultProfile revs in neutral, lifts off to provoke a backfire, then pulls through two gears.
func defaultProfile() audio.Profile {
	neutral, first, second := 0, 1, 2
	return audio.Profile{
		Duration: 8 * time.Second,
		Points: []audio.ProfilePoint{
			{At: 0, Throttle: 0, Gear: &neutral},
			{At: 500 * time.Millisecond, Throttle: 1},
			{At: 2 * time.Second, Throttle: 0},
			{At: 3 * time.Second, Throttle: 0.8, Gear: &first},
			{At: 5 * time.Second, Throttle: 0.8, Gear: &second},
			{At: 7 * time.Second, Throttle: 0},
		},
	}
}

func main() {
	out := flag.String("out", "engine.wav", "Output WAV path")
	profilePath := flag.String("profile", "", "JSON profile (durations in nanoseconds); defaults to a built-in rev sweep")
	preset := flag.String("preset", "inline4", "Engine preset")
	rate := flag.Int("rate", 48000, "Sample rate in Hz")
	seed := flag.Uint64("seed", 1, "Synthesizer seed")
	flag.Parse()

	profile := defaultProfile()
	if *profilePath != "" {
		data, err := os.ReadFile(*profilePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		profile = audio.Profile{}
		if err := json.Unmarshal(data, &profile); err != nil {
			fmt.Fprintln(os.Stderr, "decode profile:", err)
			os.Exit(1)
		}
	}

	file, err := os.Create(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	result, err := audio.RenderWAV(file, profile, audio.RenderConfig{SampleRate: *rate, Preset: *preset, Seed: *seed})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "render:", err)
		os.Exit(3)
	}
	fmt.Printf("wrote %s: %d samples, peak %.3f, %d backfires, final rpm %.0f\n",
		*out, result.Samples, result.Peak, result.Backfires, result.Final.RPM)
}
