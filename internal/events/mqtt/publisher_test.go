package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"maus-bus/internal/events"
)

type token struct {
	err error
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *token) Error() error { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	sent         []message
	err          error
	disconnected bool
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message{topic, qos, retained, payload.([]byte)})
	return &token{err: f.err}
}

func (f *fakeClient) Disconnect(uint) { f.disconnected = true }

func (f *fakeClient) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.sent...)
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"maus", "maus/device.found"},
		{"maus/", "maus/device.found"},
		{"", "device.found"},
	}
	for _, tt := range tests {
		p := NewPublisher(&fakeClient{}, Options{TopicPrefix: tt.prefix}, nil)
		if got := p.Topic(events.DeviceFound); got != tt.want {
			t.Errorf("prefix %q: got %q want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestPublishEncodesEvent(t *testing.T) {
	fc := &fakeClient{}
	p := NewPublisher(fc, Options{TopicPrefix: "maus", QoS: 1}, nil)

	e := events.New(events.DeviceRegistered, "registry", map[string]interface{}{"address": "4D"})
	if err := p.Publish(e); err != nil {
		t.Fatal(err)
	}
	sent := fc.messages()
	if len(sent) != 1 || sent[0].topic != "maus/device.registered" || sent[0].qos != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	var got events.Event
	if err := json.Unmarshal(sent[0].payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != e.ID || got.Data["address"] != "4D" {
		t.Fatalf("decoded = %+v", got)
	}
}

func TestRunKeepsForwardingAfterErrors(t *testing.T) {
	fc := &fakeClient{err: errors.New("broker down")}
	p := NewPublisher(fc, Options{TopicPrefix: "maus"}, nil)

	ch := make(chan events.Event, 2)
	ch <- events.New(events.DeviceFound, "t", nil)
	ch <- events.New(events.ScanCompleted, "t", nil)
	close(ch)

	p.Run(context.Background(), ch)
	if n := len(fc.messages()); n != 2 {
		t.Fatalf("published %d", n)
	}

	p.Close()
	if !fc.disconnected {
		t.Fatal("close did not disconnect")
	}
}
