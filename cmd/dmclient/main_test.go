package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogagureshidze/goga-network-sub001/internal/client"
)

func TestParseLine(t *testing.T) {
	cases := map[string]client.Outgoing{
		"hello there":                       {Text: "hello there"},
		"/media https://x.test/a.png":       {MediaURL: "https://x.test/a.png"},
		"/media https://x.test/a.png image": {MediaURL: "https://x.test/a.png", MediaType: "image"},
		"/media https://x.test/a.png image look at this": {
			MediaURL: "https://x.test/a.png", MediaType: "image", Text: "look at this",
		},
		"/media ":  {Text: "/media "},
		"/mediate": {Text: "/mediate"},
	}
	for line, want := range cases {
		assert.Equal(t, want, parseLine(line), line)
	}
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000/ws", wsURL("http://localhost:8000/"))
	assert.Equal(t, "wss://dm.example.com/ws", wsURL("https://dm.example.com"))
}

func TestScreenRendersWholeTimelines(t *testing.T) {
	tl := client.NewTimeline("alice", "bob")
	tl.AddProvisional("one", nil, nil)
	url := "https://x.test/a.png"
	tl.AddProvisional("two", &url, nil)

	var buf bytes.Buffer
	s := &screen{w: &buf}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.render(tl)
		}()
	}
	wg.Wait()

	blocks := strings.Split(buf.String(), "----\n")
	require.Len(t, blocks, 21)
	for _, b := range blocks[1:] {
		lines := strings.Split(strings.TrimSuffix(b, "\n"), "\n")
		require.Len(t, lines, 2, "block %q was interleaved", b)
		assert.True(t, strings.HasSuffix(lines[0], "alice: one (sending)"))
		assert.True(t, strings.HasSuffix(lines[1], "alice: two [https://x.test/a.png] (sending)"))
	}
}
