package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/talgya/swarm-director/internal/director"
	"github.com/talgya/swarm-director/internal/engine"
)

var (
	watchAddr string
	watchKey  string
)

const maxWatchEvents = 200

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live terminal dashboard for a running session",
	Long: `watch polls a running session's status and follows its event stream.

Keys: q quit, p pause/resume, + and - change speed (speed keys need --key).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The dashboard owns the terminal; keep log lines off it.
		slog.SetDefault(slog.New(slog.DiscardHandler))

		screen, err := tcell.NewScreen()
		if err != nil {
			return err
		}
		if err := screen.Init(); err != nil {
			return err
		}
		defer screen.Fini()

		ctx, cancel := context.WithCancel(cmd.Context())

		d := &dashboard{
			base:   strings.TrimRight(watchAddr, "/"),
			key:    watchKey,
			client: &http.Client{Timeout: 3 * time.Second},
			screen: screen,
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); d.poll(ctx) }()
		go func() { defer wg.Done(); d.follow(ctx) }()
		defer wg.Wait()
		defer cancel()

		for {
			switch ev := screen.PollEvent().(type) {
			case nil:
				return nil
			case *tcell.EventResize:
				screen.Sync()
				d.draw()
			case *tcell.EventInterrupt:
				d.draw()
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
					return nil
				}
				switch ev.Rune() {
				case 'p':
					d.togglePause()
				case '+':
					d.scaleSpeed(2)
				case '-':
					d.scaleSpeed(0.5)
				}
			}
		}
	},
}

type watchStatus struct {
	engine.Status
	Speed   float64 `json:"speed"`
	Running bool    `json:"running"`
}

type dashboard struct {
	base   string
	key    string
	client *http.Client
	screen tcell.Screen

	mu      sync.Mutex
	status  watchStatus
	targets []engine.TargetView
	events  []director.Event
	err     string
	note    string
	live    bool
}

func (d *dashboard) refresh() {
	_ = d.screen.PostEvent(tcell.NewEventInterrupt(nil))
}

func (d *dashboard) poll(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		var st watchStatus
		var targets []engine.TargetView
		err := d.getJSON(ctx, "/api/v1/status", &st)
		if err == nil {
			err = d.getJSON(ctx, "/api/v1/targets", &targets)
		}

		d.mu.Lock()
		if err != nil {
			d.err = err.Error()
		} else {
			d.err, d.status, d.targets = "", st, targets
		}
		d.mu.Unlock()
		d.refresh()

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (d *dashboard) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// follow keeps a websocket open to the event stream, reconnecting on loss.
func (d *dashboard) follow(ctx context.Context) {
	u, err := url.Parse(d.base)
	if err != nil {
		return
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/api/v1/stream"

	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			d.setLive(true)
			d.readStream(ctx, conn)
			d.setLive(false)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (d *dashboard) readStream(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		var e director.Event
		if err := conn.ReadJSON(&e); err != nil {
			return
		}
		d.mu.Lock()
		d.events = append(d.events, e)
		if len(d.events) > maxWatchEvents {
			d.events = d.events[len(d.events)-maxWatchEvents:]
		}
		d.mu.Unlock()
		d.refresh()
	}
}

func (d *dashboard) setLive(v bool) {
	d.mu.Lock()
	d.live = v
	d.mu.Unlock()
	d.refresh()
}

func (d *dashboard) togglePause() {
	d.mu.Lock()
	speed := d.status.Speed
	d.mu.Unlock()
	if speed > 0 {
		d.setSpeed(0)
	} else {
		d.setSpeed(1)
	}
}

func (d *dashboard) scaleSpeed(f float64) {
	d.mu.Lock()
	speed := d.status.Speed
	d.mu.Unlock()
	if speed <= 0 {
		speed = 1
	}
	d.setSpeed(speed * f)
}

func (d *dashboard) setSpeed(v float64) {
	note := fmt.Sprintf("speed set to %.2gx", v)
	if d.key == "" {
		note = "speed control needs --key"
	} else if err := d.postSpeed(v); err != nil {
		note = err.Error()
	} else {
		d.mu.Lock()
		d.status.Speed = v
		d.mu.Unlock()
	}
	d.mu.Lock()
	d.note = note
	d.mu.Unlock()
	d.refresh()
}

func (d *dashboard) postSpeed(v float64) error {
	body, _ := json.Marshal(map[string]float64{"speed": v})
	req, err := http.NewRequest(http.MethodPost, d.base+"/api/v1/speed", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.key)
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("set speed: %s", resp.Status)
	}
	return nil
}

var (
	styleTitle = tcell.StyleDefault.Bold(true)
	styleDim   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleBar   = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleLow   = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleWarn  = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleEvent = map[director.Kind]tcell.Style{
		director.KindWaveStarted:   tcell.StyleDefault.Foreground(tcell.ColorAqua).Bold(true),
		director.KindMilestone:     tcell.StyleDefault.Foreground(tcell.ColorFuchsia),
		director.KindReward:        tcell.StyleDefault.Foreground(tcell.ColorFuchsia),
		director.KindBalance:       tcell.StyleDefault.Foreground(tcell.ColorYellow),
		director.KindOverride:      tcell.StyleDefault.Foreground(tcell.ColorOrange),
		director.KindRevert:        tcell.StyleDefault.Foreground(tcell.ColorOrange),
		director.KindTargetRemoved: tcell.StyleDefault.Foreground(tcell.ColorRed),
		director.KindTargetAdded:   tcell.StyleDefault.Foreground(tcell.ColorGreen),
	}
)

func (d *dashboard) draw() {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.screen
	s.Clear()
	w, h := s.Size()
	st := d.status

	link := "stream down"
	if d.live {
		link = "stream live"
	}
	drawText(s, 0, 0, styleTitle, fmt.Sprintf("swarm director  %s  %s", d.base, link))
	drawText(s, 0, 1, tcell.StyleDefault, fmt.Sprintf(
		"tick %d  %s  speed %.2gx  wave %d (%s)  raiders %d  to spawn %d  influence %.2f",
		st.Tick, st.Clock, st.Speed, st.Wave, st.Phase, st.Population, st.Remaining, st.TotalInfluence))
	drawText(s, 0, 2, styleDim, fmt.Sprintf(
		"kills %d  outposts lost %d  rerolls %d  passes %d  session %s",
		st.Arena.Kills, st.Arena.Losses, st.Stats.Rerolls, st.Stats.Passes, st.Session))

	y := 4
	drawText(s, 0, y, styleTitle, "outposts")
	y++
	barWidth := min(40, max(10, w-40))
	for _, t := range d.targets {
		if y >= h-2 {
			break
		}
		label := fmt.Sprintf("#%-3d %5.1f%% raiders %-3d hp %5.1f ", t.ID, t.Influence*100, t.Agents, t.Health)
		drawText(s, 0, y, tcell.StyleDefault, label)
		style := styleBar
		if t.Influence < 0.25 {
			style = styleLow
		}
		fill := min(barWidth, int(t.Influence*float64(barWidth)))
		drawText(s, len(label), y, style, strings.Repeat("#", fill))
		drawText(s, len(label)+fill, y, styleDim, strings.Repeat(".", barWidth-fill))
		y++
	}

	y++
	drawText(s, 0, y, styleTitle, "events")
	y++
	rows := max(0, h-y-1)
	start := max(0, len(d.events)-rows)
	for _, e := range d.events[start:] {
		drawText(s, 0, y, styleEvent[e.Kind], formatEvent(e))
		y++
	}

	footer := "q quit  p pause  + faster  - slower"
	if d.err != "" {
		drawText(s, 0, h-1, styleWarn, d.err)
	} else if d.note != "" {
		drawText(s, 0, h-1, styleDim, footer+"  | "+d.note)
	} else {
		drawText(s, 0, h-1, styleDim, footer)
	}
	s.Show()
}

func formatEvent(e director.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%8d  w%-3d %-14s", e.Tick, e.Wave, e.Kind)
	if e.Agent != 0 {
		fmt.Fprintf(&b, " agent %d", e.Agent)
	}
	if e.Target != 0 {
		fmt.Fprintf(&b, " target %d", e.Target)
	}
	if e.Count != 0 {
		fmt.Fprintf(&b, " x%d", e.Count)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, "  %s", e.Detail)
	}
	return b.String()
}

func drawText(s tcell.Screen, x, y int, style tcell.Style, text string) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x++
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "http://localhost:8080", "Base URL of a running session")
	watchCmd.Flags().StringVar(&watchKey, "key", "", "Admin key for speed control")
}
