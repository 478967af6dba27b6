package dryrun

import (
	"context"
	"testing"
	"time"

	"github.com/kbukum/beachhead/domainspec"
	"github.com/kbukum/beachhead/logger"
	"github.com/kbukum/beachhead/publisher"
)

func TestPublishAndQuery(t *testing.T) {
	p := New(publisher.Config{}, logger.Nop())
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	rec := publisher.Record{Spec: domainspec.MustParse("example.org")[0], Container: "web", Host: "h"}
	if err := p.Publish(ctx, rec, time.Minute); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	plain := publisher.Record{Spec: domainspec.MustParse("static.org:http")[0], Container: "s", Host: "h"}
	if err := p.Publish(ctx, plain, 0); err != nil {
		t.Fatal(err)
	}

	entries, err := p.Query(ctx, "beachhead:")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("Query() = %+v, want 3 entries", entries)
	}
	if entries[0].Key != "beachhead:example.org:http" || entries[0].TTL != time.Minute {
		t.Errorf("entries[0] = %+v", entries[0])
	}

	now = now.Add(61 * time.Second)
	entries, _ = p.Query(ctx, "beachhead:")
	if len(entries) != 1 || entries[0].Key != "beachhead:static.org:http" {
		t.Errorf("after expiry Query() = %+v, want only the key without TTL", entries)
	}
}

func TestFactory(t *testing.T) {
	p, err := publisher.New(publisher.Config{Provider: publisher.ProviderDryRun}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := p.(*Publisher); ok {
		t.Error("factory should serialize the dry-run publisher")
	}

	rec := publisher.Record{Spec: domainspec.MustParse("example.org")[0], Host: "h"}
	if err := p.Publish(context.Background(), rec, time.Minute); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	entries, err := p.Query(context.Background(), "")
	if err != nil || len(entries) != 1 {
		t.Errorf("Query() = %+v, %v, want one entry", entries, err)
	}
}

func TestPublish_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(publisher.Config{}, nil)
	rec := publisher.Record{Spec: domainspec.MustParse("example.org")[0]}
	if err := p.Publish(ctx, rec, time.Minute); err == nil {
		t.Error("Publish() should fail on a cancelled context")
	}
}
