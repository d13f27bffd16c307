package webhook

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestSendPostsEmbedPayload(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewSink()
	embed := Embed{
		Title:     "AAPL CALL $200.00 12/19/26",
		Color:     0x2ECC71,
		Timestamp: "2025-10-22T14:00:00Z",
		Fields: []Field{
			{Name: "Premium", Value: "$1050000.00", Inline: true},
		},
	}
	if err := sink.Send(context.Background(), srv.URL, embed); err != nil {
		t.Fatalf("send: %v", err)
	}

	var payload struct {
		Embeds   []Embed `json:"embeds"`
		Username string  `json:"username"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal request body: %v", err)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(payload.Embeds))
	}
	if !strings.HasPrefix(payload.Username, "ORAKL") {
		t.Errorf("unexpected username %q", payload.Username)
	}
}

func TestSendRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Reset-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewSink()
	if err := sink.Send(context.Background(), srv.URL, Embed{Title: "x"}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestSendFailsWithoutFurtherRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewSink()
	if err := sink.Send(context.Background(), srv.URL, Embed{Title: "x"}); err == nil {
		t.Fatal("expected a webhook error on 500")
	}
	if calls.Load() != 1 {
		t.Errorf("non-429 failures must not retry, got %d calls", calls.Load())
	}
}

func TestSanitizeEmbedCapsAndElides(t *testing.T) {
	fields := make([]Field, 0, 30)
	for i := 0; i < 30; i++ {
		fields = append(fields, Field{Name: "n", Value: "v"})
	}
	fields = append(fields, Field{Name: "", Value: "orphan value"})

	e := Embed{
		Title:       strings.Repeat("t", 300),
		Description: strings.Repeat("d", 5000),
		Color:       0x1FFFFFF,
		Fields:      fields,
	}
	sanitizeEmbed(&e)

	if len(e.Title) != titleMax {
		t.Errorf("title should cap at %d, got %d", titleMax, len(e.Title))
	}
	if len(e.Description) != descriptionMax {
		t.Errorf("description should cap at %d, got %d", descriptionMax, len(e.Description))
	}
	if len(e.Fields) != fieldsMax {
		t.Errorf("fields should cap at %d, got %d", fieldsMax, len(e.Fields))
	}
	if e.Color > 0xFFFFFF {
		t.Errorf("color should clamp to 0xFFFFFF, got %x", e.Color)
	}
	for _, f := range e.Fields {
		if f.Name == "" || f.Value == "" {
			t.Error("empty fields must be elided")
		}
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1050000, "1050000.00"},
		{7.005, "7.00"},
		{math.NaN(), "--"},
		{math.Inf(1), "--"},
		{math.Inf(-1), "--"},
	}
	for _, tt := range tests {
		got := FormatFloat(tt.in)
		if got != tt.want {
			t.Errorf("FormatFloat(%v): expected %q, got %q", tt.in, tt.want, got)
		}
		if strings.Contains(got, "NaN") || strings.Contains(got, "Inf") {
			t.Errorf("rendered value leaks a non-finite literal: %q", got)
		}
	}
}
