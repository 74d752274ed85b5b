package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/margin/annotation"
)

func implementedTarget() annotation.Summary {
	return annotation.Summary{
		ID:            "a1",
		Status:        annotation.StatusImplemented,
		Comment:       "make the button bigger",
		IsOwn:         true,
		RevisionCount: 2,
	}
}

func TestRevisionPromptSubmitClosesOnSuccess(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.setList([]annotation.Summary{implementedTarget()})
	c := newController(t, adapter)
	c.Refresh(context.Background())

	p := NewRevisionPrompt(c)
	p.Open(implementedTarget())

	target, open := p.Target()
	if !open || target.Comment != "make the button bigger" {
		t.Fatalf("target: %+v open=%v", target, open)
	}

	if err := p.Submit(context.Background(), "make it blue"); err != nil {
		t.Fatal(err)
	}
	if _, open := p.Target(); open {
		t.Fatal("prompt still open after successful submit")
	}
	if adapter.revises.Load() != 1 {
		t.Fatalf("revise calls = %d, want 1", adapter.revises.Load())
	}
}

func TestRevisionPromptStaysOpenOnFailure(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.setList([]annotation.Summary{implementedTarget()})
	adapter.actionErr = errors.New("agent unavailable")
	c := newController(t, adapter)
	c.Refresh(context.Background())

	p := NewRevisionPrompt(c)
	p.Open(implementedTarget())

	err := p.Submit(context.Background(), "make it blue")
	if err == nil || err.Error() != "agent unavailable" {
		t.Fatalf("error = %v", err)
	}
	// The user can retry or cancel; the target is preserved.
	if _, open := p.Target(); !open {
		t.Fatal("prompt closed on failure")
	}
}

func TestRevisionPromptRejectsEmptyText(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.setList([]annotation.Summary{implementedTarget()})
	c := newController(t, adapter)
	c.Refresh(context.Background())

	p := NewRevisionPrompt(c)
	p.Open(implementedTarget())

	if err := p.Submit(context.Background(), "  \t "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("got %v, want ErrEmptyPrompt", err)
	}
	if adapter.revises.Load() != 0 {
		t.Fatal("remote call issued for empty text")
	}
	if _, open := p.Target(); !open {
		t.Fatal("prompt closed on validation failure")
	}
}

func TestRevisionPromptSubmitWithoutTarget(t *testing.T) {
	adapter := &fakeAdapter{}
	c := newController(t, adapter)
	p := NewRevisionPrompt(c)

	if err := p.Submit(context.Background(), "text"); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("got %v, want ErrNoTarget", err)
	}
}

func TestRevisionPromptCancelDiscards(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.setList([]annotation.Summary{implementedTarget()})
	c := newController(t, adapter)
	c.Refresh(context.Background())

	p := NewRevisionPrompt(c)
	p.Open(implementedTarget())
	p.Cancel()

	if _, open := p.Target(); open {
		t.Fatal("prompt open after cancel")
	}
	if adapter.revises.Load() != 0 {
		t.Fatal("cancel issued a remote call")
	}
}

func TestRevisionPromptBusyTracksActionLock(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.setList([]annotation.Summary{implementedTarget()})
	c := newController(t, adapter)
	c.Refresh(context.Background())

	p := NewRevisionPrompt(c)
	p.Open(implementedTarget())
	if p.Busy() {
		t.Fatal("busy with no action in flight")
	}

	block := make(chan struct{})
	adapter.mu.Lock()
	adapter.block = block
	adapter.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.Submit(context.Background(), "tweak it") }()

	deadline := time.Now().Add(time.Second)
	for !c.Busy("a1") {
		if time.Now().After(deadline) {
			t.Fatal("action never acquired the lock")
		}
		time.Sleep(time.Millisecond)
	}
	if !p.Busy() {
		t.Fatal("prompt not busy while action in flight")
	}

	adapter.mu.Lock()
	adapter.block = nil
	adapter.mu.Unlock()
	close(block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if p.Busy() {
		t.Fatal("prompt busy after completion")
	}
}
