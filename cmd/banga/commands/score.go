package commands

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"

	"github.com/kaoskorobase/banga/pkg/engine"
	"github.com/kaoskorobase/banga/pkg/score"
)

// parseParams turns key=value flags into Starlark params. Values that parse
// as integers, floats or booleans keep that type.
func parseParams(flags []string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(flags))
	for _, kv := range flags {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q: want key=value", kv)
		}
		params[key] = parseParamValue(value)
	}
	return params, nil
}

func parseParamValue(s string) interface{} {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func loadScore(ctx context.Context, path string, paramFlags []string) (*score.Score, error) {
	params, err := parseParams(paramFlags)
	if err != nil {
		return nil, err
	}
	return score.Load(ctx, path, params)
}

type playSummary struct {
	Score    string `json:"score"`
	Session  string `json:"session"`
	Cues     int    `json:"cues"`
	Messages int    `json:"messages"`
	IDs      struct {
		Nodes int `json:"nodes"`
		Buses int `json:"buses"`
	} `json:"ids_in_use"`
}

func printSummary(out io.Writer, s playSummary) error {
	if jsonOutput {
		return writeJSON(out, s)
	}
	fmt.Fprintf(out, "Played %s: %d cues, %d messages (session %s)\n", s.Score, s.Cues, s.Messages, s.Session)
	fmt.Fprintf(out, "Ids in use: %d nodes, %d buses\n", s.IDs.Nodes, s.IDs.Buses)
	return nil
}

// dumpPackets prints the bundles recorded by the loopback backend.
func dumpPackets(out io.Writer, packets [][]byte) error {
	for i, data := range packets {
		p, err := osc.ParsePacket(string(data))
		if err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
		b, ok := p.(*osc.Bundle)
		if !ok {
			fmt.Fprintf(out, "#%d %v\n", i, p)
			continue
		}
		// Read the tag from the frame; go-osc rounds it through time.Time.
		tag := binary.BigEndian.Uint64(data[8:16])
		fmt.Fprintf(out, "#%d @%.6f tag=%016x (%d bytes)\n", i, float64(engine.TimetagToTime(tag)), tag, len(data))
		for _, m := range b.Messages {
			fmt.Fprintf(out, "    %s %v\n", m.Address, m.Arguments)
		}
	}
	return nil
}
