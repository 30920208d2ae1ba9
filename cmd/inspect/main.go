// Command inspect dumps the participants and messages of a persistent datastore.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/pliu/lounge/internal/clock"
	"github.com/pliu/lounge/internal/config"
	"github.com/pliu/lounge/internal/store"
	"github.com/pliu/lounge/internal/store/backend"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	driver := flag.String("driver", "", "datastore driver, defaults to STORE_DRIVER")
	dsn := flag.String("dsn", "", "datastore location, defaults to STORE_DSN")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal(err)
	}
	if *driver != "" {
		cfg.StoreDriver = *driver
	}
	if *dsn != "" {
		cfg.StoreDSN = *dsn
	}
	if cfg.StoreDriver == config.DriverMemory {
		log.Fatal("the memory datastore lives inside the server process and cannot be inspected")
	}

	s, err := backend.Open(cfg.StoreDriver, cfg.StoreDSN, logs.GetLoggerFromString("ERROR"))
	if err != nil {
		log.Fatal("Error while opening datastore: ", err)
	}
	defer s.Close()

	if err := dump(context.Background(), s, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func dump(ctx context.Context, s store.Store, w io.Writer) error {
	participants, err := s.ListParticipants(ctx)
	if err != nil {
		return err
	}
	messages, err := s.ListMessages(ctx, store.MessageQuery{All: true})
	if err != nil {
		return err
	}

	fmt.Fprintln(w, section(fmt.Sprintf("Participants (%d)", len(participants))))
	table := newTable(w, "Name", "Last seen")
	for _, p := range participants {
		table.Append([]string{p.Name, clock.Format(p.LastSeenAt)})
	}
	table.Render()

	fmt.Fprintln(w)
	fmt.Fprintln(w, section(fmt.Sprintf("Messages (%d)", len(messages))))
	table = newTable(w, "ID", "Time", "Type", "From", "To", "Text")
	for _, m := range messages {
		id := m.ID
		if len(id) > 8 {
			id = id[:8]
		}
		table.Append([]string{id, m.Time, string(m.Kind), m.From, m.To, m.Text})
	}
	table.Render()
	return nil
}

func section(title string) string {
	return color.New(color.BgBlack, color.FgGreen).Render(title)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}
