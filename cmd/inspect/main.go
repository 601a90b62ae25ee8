// Command inspect opens a conversation store read-only and prints the
// inbox or the result of a token search, plus process stats. Handy when
// debugging read-state or index drift without booting a client.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"conv-core/internal"
	"conv-core/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/process"
)

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to the badger store")
	query := flag.String("query", "", "Token prefix to search instead of listing the inbox")
	flag.Parse()

	// Config is best effort here: inspection of a copied store must not
	// require the full client environment.
	config, err := internal.Load()
	if err == nil && config.BadgerFilepath != "" && *dbPath == database.DefaultPath {
		*dbPath = config.BadgerFilepath
	}
	region := config.RegionCode
	if region == "" {
		region = "US"
	}
	level := config.LogLevel
	if level == "" {
		level = "info"
	}
	logger := logs.GetLoggerFromString(level)

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	repository := repositories.NewConversationRepository(db, logger)

	conversations, err := repository.FetchActive()
	if *query != "" {
		conversations, err = repository.Search(*query)
	}
	if err != nil {
		log.Fatal("Fetch failed: ", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Kind", "Title", "Unread", "Last Activity", "Last Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, c := range conversations {
		unread := fmt.Sprintf("%d", c.UnreadCount)
		if c.UnreadCount > 0 {
			unread = color.Red.Sprint(unread)
		}
		activity := ""
		if c.LastActivity > 0 {
			activity = time.UnixMilli(c.LastActivity).UTC().Format(time.RFC3339)
		}
		table.Append([]string{c.ID, string(c.Kind), c.Title(region), unread, activity, c.LastMessage})
	}
	table.Render()

	printSelfStats()
}

func printSelfStats() {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return
	}
	fmt.Printf("\nrss: %d MB\n", mem.RSS/1024/1024)
}
