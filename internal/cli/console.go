// Package cli implements the interactive operator console for ChatRelay.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/chatrelay-project/chatrelay/internal/config"
	"github.com/chatrelay-project/chatrelay/internal/events"
	"github.com/chatrelay-project/chatrelay/internal/registry"
	"github.com/chatrelay-project/chatrelay/internal/util"
)

// Console provides the interactive operator command loop.
type Console struct {
	cfg       *config.Config
	eventBus  *events.EventBus
	registry  *registry.Registry
	startedAt time.Time
}

// NewConsole creates a new operator console.
func NewConsole(cfg *config.Config, eventBus *events.EventBus, reg *registry.Registry) *Console {
	return &Console{
		cfg:       cfg,
		eventBus:  eventBus,
		registry:  reg,
		startedAt: time.Now(),
	}
}

// Start begins the interactive loop. It returns when ctx is cancelled or
// stdin is closed.
func (c *Console) Start(ctx context.Context) {
	fmt.Println("\nChatRelay console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("chatrelay> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			parts := strings.Fields(line)
			c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		}
	}
}

// execute processes a single console command.
func (c *Console) execute(ctx context.Context, cmd string, args []string) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "rooms", "r":
		c.printRooms()
	case "close":
		c.closeRoom(ctx, args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down ChatRelay...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "console",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
}

// printHelp displays available commands.
func (c *Console) printHelp() {
	fmt.Println()
	fmt.Println("  status           Show relay status and host load")
	fmt.Println("  rooms            List active rooms and participants")
	fmt.Println("  close <room>     Close a room and drop its participants")
	fmt.Println("  quit             Shut down ChatRelay")
	fmt.Println("  help             Show this help message")
	fmt.Println()
}

// printStatus shows counts, uptime, and host load.
func (c *Console) printStatus() {
	rooms, participants := c.registry.Counts()
	relay := c.cfg.GetRelay()

	fmt.Printf("\nUptime:        %s\n", time.Since(c.startedAt).Round(time.Second))
	fmt.Printf("Control port:  tcp/%d\n", relay.ControlPort)
	fmt.Printf("Data port:     udp/%d\n", relay.DataPort)
	fmt.Printf("Rooms:         %d\n", rooms)
	fmt.Printf("Participants:  %d\n", participants)

	if cpu, err := util.GetCPUUsage(); err == nil {
		fmt.Printf("CPU:           %.1f%%\n", cpu)
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		fmt.Printf("Memory:        %d/%d MB (%.1f%%)\n", mem.Used, mem.Total, mem.UsedPercent)
	}
	fmt.Println()
}

// printRooms renders the room table.
func (c *Console) printRooms() {
	snapshot := c.registry.Snapshot()
	if len(snapshot) == 0 {
		fmt.Println("No active rooms.")
		return
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Room", "Host", "Participant", "Bound", "Address", "Last Active"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, room := range snapshot {
		for _, p := range room.Participants {
			bound := "-"
			addr := "-"
			if p.Bound {
				bound = "yes"
				addr = p.Address
			}
			host := ""
			if p.IsHost {
				host = "*"
			}
			tw.Append([]string{
				room.Name,
				host,
				p.Username,
				bound,
				addr,
				p.LastActiveAt.Format("15:04:05"),
			})
		}
	}

	tw.Render()
}

// closeRoom closes a room on operator request.
func (c *Console) closeRoom(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: close <room>")
		return
	}

	name := args[0]
	dropped, ok := c.registry.CloseRoom(name)
	if !ok {
		fmt.Printf("No active room named '%s'.\n", name)
		return
	}

	fmt.Printf("Closed room '%s' (%d participants dropped).\n", name, dropped)
	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventRoomClosed,
		Source: "console",
		Payload: events.RoomClosedPayload{
			RoomName: name,
			Dropped:  dropped,
			Reason:   "operator",
		},
	})
}
