package sync_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/mschirtzinger/exposure-tracker/internal/remote"
	"github.com/mschirtzinger/exposure-tracker/internal/sync"
	"github.com/mschirtzinger/exposure-tracker/internal/types"
)

type signedIn string

func (u signedIn) UserID() string { return string(u) }

// This example logs two exposures on the same day and then edits the
// first one. The reference number is kept across the edit.
func ExampleClient_SaveExposure() {
	dir, err := os.MkdirTemp("", "sync-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	quiet := log.New(io.Discard, "", 0)
	store, err := remote.OpenSQLite(filepath.Join(dir, "remote.db"), quiet)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	client := sync.New(store, signedIn("alice"), nil, quiet)
	ctx := context.Background()

	first := &types.Exposure{
		Date:               "2024-03-05",
		Time:               "09:00",
		Situation:          "Rode the bus at rush hour",
		AnticipatedAnxiety: 7,
		PeakAnxiety:        5,
		Duration:           "20 min",
	}
	if _, err := client.SaveExposure(ctx, first); err != nil {
		log.Fatal(err)
	}

	second := *first
	second.ID, second.ReferenceNumber, second.Time = "", "", "18:30"
	if _, err := client.SaveExposure(ctx, &second); err != nil {
		log.Fatal(err)
	}

	first.PeakAnxiety = 4
	res, err := client.SaveExposure(ctx, first)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(second.ReferenceNumber)
	fmt.Println(first.ReferenceNumber, res.Created)

	// Output:
	// EXP-240305-002
	// EXP-240305-001 false
}
