package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/inventra/ims-event-hub/internal/handler/ws"
)

const monitorRefresh = time.Second

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "terminal dashboard over a running hub's /stats endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "http://localhost:8080",
				Usage: "hub base URL",
			},
		},
		Action: func(c *cli.Context) error {
			return runMonitor(c.Context, c.String("addr"))
		},
	}
}

func fetchStats(ctx context.Context, client *http.Client, base string) (*ws.StatsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats: unexpected status %s", resp.Status)
	}
	var stats ws.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func runMonitor(ctx context.Context, addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	// The monitor often starts alongside the hub; retry the first fetch so a
	// not-yet-listening hub is not fatal.
	prev, err := backoff.Retry(ctx, func() (*ws.StatsResponse, error) {
		return fetchStats(ctx, client, addr)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("monitor: hub unreachable at %s: %w", addr, err)
	}

	if err := ui.Init(); err != nil {
		return fmt.Errorf("monitor: init terminal: %w", err)
	}
	defer ui.Close()

	summary := widgets.NewParagraph()
	summary.Title = " ims-event-hub @ " + addr + " "

	ingest := widgets.NewSparkline()
	ingest.LineColor = ui.ColorGreen
	ingestGroup := widgets.NewSparklineGroup(ingest)
	ingestGroup.Title = " events consumed /s "

	drops := widgets.NewSparkline()
	drops.LineColor = ui.ColorRed
	dropsGroup := widgets.NewSparklineGroup(drops)
	dropsGroup.Title = " fan-out drops /s "

	grid := ui.NewGrid()
	w, h := ui.TerminalDimensions()
	grid.SetRect(0, 0, w, h)
	grid.Set(
		ui.NewRow(1.0/3, ui.NewCol(1.0, summary)),
		ui.NewRow(1.0/3, ui.NewCol(1.0, ingestGroup)),
		ui.NewRow(1.0/3, ui.NewCol(1.0, dropsGroup)),
	)

	render := func(s *ws.StatsResponse) {
		ingest.Data = appendRate(ingest.Data, s.EventsConsumed, prev.EventsConsumed)
		drops.Data = appendRate(drops.Data, s.MessagesDropped, prev.MessagesDropped)
		summary.Text = fmt.Sprintf(
			"uptime %s\nsessions %d  subscriptions %d\nconsumed %d  enqueued %d  dropped %d\npublish failures %d",
			time.Duration(s.UptimeSec)*time.Second,
			s.Sessions, s.Subscriptions,
			s.EventsConsumed, s.MessagesEnqueued, s.MessagesDropped,
			s.PublishFailures,
		)
		prev = s
		ui.Render(grid)
	}
	render(prev)

	events := ui.PollEvents()
	ticker := time.NewTicker(monitorRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Render(grid)
			}
		case <-ticker.C:
			stats, err := fetchStats(ctx, client, addr)
			if err != nil {
				summary.Text = "stats fetch failed: " + err.Error()
				ui.Render(grid)
				continue
			}
			render(stats)
		}
	}
}

// appendRate keeps a rolling window of per-tick counter deltas for the
// sparklines. A hub restart resets the counters, so a regressed reading
// renders as zero rather than an unsigned underflow.
func appendRate(data []float64, cur, prev uint64) []float64 {
	var delta uint64
	if cur > prev {
		delta = cur - prev
	}
	data = append(data, float64(delta))
	if len(data) > 120 {
		data = data[len(data)-120:]
	}
	return data
}
