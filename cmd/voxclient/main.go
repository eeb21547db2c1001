// Command voxclient is a microphone/speaker development harness for
// exercising voxdialogd over the network. It dials the server's websocket
// endpoint, streams captured mic audio as binary frames, and plays back
// synthesized speech fetched from the audio artifact URLs the server emits.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gen2brain/malgo"
)

const (
	sampleRate = 8000
	channels   = 1
)

func main() {
	serverURL := os.Getenv("VOXDIALOG_URL")
	if serverURL == "" {
		serverURL = "ws://localhost:8080/ws"
	}
	agentID := os.Getenv("VOXDIALOG_AGENT_ID")
	if agentID == "" {
		agentID = "default"
	}
	audioBaseURL := os.Getenv("VOXDIALOG_HTTP_URL")
	if audioBaseURL == "" {
		audioBaseURL = "http://localhost:8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, serverURL, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", serverURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, map[string]any{
		"type":        "audio_config",
		"sample_rate": sampleRate,
		"encoding":    "LINEAR16",
		"channels":    channels,
	}); err != nil {
		log.Fatalf("send audio_config: %v", err)
	}
	if err := wsjson.Write(ctx, conn, map[string]any{
		"type":     "agent_config",
		"agent_id": agentID,
	}); err != nil {
		log.Fatalf("send agent_config: %v", err)
	}

	player := newPlayer(audioBaseURL)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	var rmsMu sync.Mutex
	lastRMS := 0.0

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			var sum float64
			for i := 0; i < len(pInput)-1; i += 2 {
				sample := int16(pInput[i]) | (int16(pInput[i+1]) << 8)
				f := float64(sample) / 32768.0
				sum += f * f
			}
			rms := math.Sqrt(sum / float64(len(pInput)/2))
			rmsMu.Lock()
			lastRMS = rms
			rmsMu.Unlock()

			if err := conn.Write(ctx, websocket.MessageBinary, pInput); err != nil && ctx.Err() == nil {
				log.Printf("mic write failed: %v", err)
			}
		}
		if pOutput != nil {
			player.fill(pOutput)
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	go func() {
		for {
			rmsMu.Lock()
			level := lastRMS
			rmsMu.Unlock()
			meter := ""
			dots := int(level * 500)
			if dots > 40 {
				dots = 40
			}
			for i := 0; i < dots; i++ {
				meter += "|"
			}
			fmt.Printf("\r[MIC %-40s] RMS: %.5f", meter, level)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	go readLoop(ctx, conn, player)

	fmt.Println("voxclient connected. Press Ctrl+C to exit.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
}

// readLoop decodes server->client messages and drives playback/console
// feedback. Audio chunks arrive as a URL pointing at the artifact cache;
// the client fetches and appends them to the playback buffer.
func readLoop(ctx context.Context, conn *websocket.Conn, player *player) {
	for {
		var msg map[string]any
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() == nil {
				log.Printf("\r\033[Kread failed: %v\n", err)
			}
			return
		}
		msgType, _ := msg["type"].(string)
		switch msgType {
		case "user_transcript":
			fmt.Printf("\r\033[K[YOU] %s\n", msg["text"])
		case "interim_transcript":
			fmt.Printf("\r\033[K[...] %s\n", msg["text"])
		case "stream_start":
			fmt.Printf("\r\033[K[AGENT] thinking...\n")
		case "text_chunk":
			fmt.Printf("\r\033[K[AGENT] %s\n", msg["text"])
		case "audio_chunk":
			if url, ok := msg["audio_url"].(string); ok {
				player.fetchAndQueue(url)
			}
		case "stream_complete":
			fmt.Printf("\r\033[K[AGENT] done: %s\n", msg["full_text"])
		case "agent_greeting":
			fmt.Printf("\r\033[K[AGENT] %s\n", msg["text"])
		case "greeting_audio":
			if url, ok := msg["audio_url"].(string); ok {
				player.fetchAndQueue(url)
			}
		case "stop_audio_immediately":
			player.clear()
			fmt.Printf("\r\033[K[INTERRUPTED]\n")
		case "error":
			fmt.Printf("\r\033[K[ERROR] %v\n", msg["error_kind"])
		}
	}
}

// player buffers decoded PCM for the malgo playback callback to drain.
type player struct {
	httpClient *http.Client
	baseURL    string

	mu   sync.Mutex
	data []byte
}

func newPlayer(baseURL string) *player {
	return &player{httpClient: &http.Client{Timeout: 10 * time.Second}, baseURL: baseURL}
}

func (p *player) fetchAndQueue(url string) {
	full := url
	if len(url) > 0 && url[0] == '/' {
		full = p.baseURL + url
	}
	resp, err := p.httpClient.Get(full)
	if err != nil {
		log.Printf("\r\033[Kfetch audio %s failed: %v\n", full, err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("\r\033[Kread audio body failed: %v\n", err)
		return
	}
	p.mu.Lock()
	p.data = append(p.data, body...)
	p.mu.Unlock()
}

func (p *player) fill(out []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(out, p.data)
	p.data = p.data[n:]
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

func (p *player) clear() {
	p.mu.Lock()
	p.data = nil
	p.mu.Unlock()
}
