package messaging

import (
	"testing"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

func TestInbox_PushAfterClose(t *testing.T) {
	b := newInbox("test")
	if !b.push(models.Response{From: "1@c.us"}) {
		t.Fatal("expected push to open inbox to succeed")
	}
	if !b.close() {
		t.Fatal("expected first close to report true")
	}
	if b.close() {
		t.Error("expected second close to report false")
	}
	if b.push(models.Response{From: "2@c.us"}) {
		t.Error("expected push after close to be dropped")
	}

	got := <-b.ch
	if got.From != "1@c.us" {
		t.Errorf("expected buffered message to survive close, got %+v", got)
	}
	if _, ok := <-b.ch; ok {
		t.Error("expected channel closed after draining")
	}
}
