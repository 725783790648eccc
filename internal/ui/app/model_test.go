package app

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/platform/config"
)

type fakeTransfer struct {
	ch        chan domain.OperationStatus
	ops       []domain.OperationStatus
	cancelled []domain.OperationID
}

func (f *fakeTransfer) Subscribe() <-chan domain.OperationStatus      { return f.ch }
func (f *fakeTransfer) GetAllOperations() []domain.OperationStatus   { return f.ops }
func (f *fakeTransfer) CurrentBandwidth() float64                    { return 1024 }
func (f *fakeTransfer) Send(context.Context, []string, domain.PeerID, bool, bool) (domain.OperationStatus, error) {
	return domain.OperationStatus{}, nil
}
func (f *fakeTransfer) Cancel(_ context.Context, opID domain.OperationID) error {
	f.cancelled = append(f.cancelled, opID)
	return nil
}

type fakeStream struct{ ch chan domain.OperationStatus }

func (f *fakeStream) Subscribe() <-chan domain.OperationStatus    { return f.ch }
func (f *fakeStream) GetAllOperations() []domain.OperationStatus { return nil }
func (f *fakeStream) Start(context.Context, string, bool, string) (domain.OperationStatus, string, error) {
	return domain.OperationStatus{}, "", nil
}
func (f *fakeStream) Pause(context.Context, domain.OperationID) error  { return nil }
func (f *fakeStream) Resume(context.Context, domain.OperationID) error { return nil }
func (f *fakeStream) Stop(context.Context, domain.OperationID) error   { return nil }

type fakeClipboard struct{ ch chan domain.OperationStatus }

func (f *fakeClipboard) Subscribe() <-chan domain.OperationStatus    { return f.ch }
func (f *fakeClipboard) GetAllOperations() []domain.OperationStatus { return nil }
func (f *fakeClipboard) Send(context.Context, domain.PeerID) error  { return nil }
func (f *fakeClipboard) Watch(context.Context, domain.PeerID) (domain.OperationStatus, error) {
	return domain.OperationStatus{}, nil
}

type fakeExec struct{}

func (fakeExec) Execute(context.Context, domain.PeerID, string, time.Duration) (handlers.ExecResult, error) {
	return handlers.ExecResult{Stdout: "ok\n"}, nil
}

type fakeDiscover struct {
	ch    chan domain.PeerInfo
	peers []domain.PeerInfo
}

func (f *fakeDiscover) NewPeers() <-chan domain.PeerInfo              { return f.ch }
func (f *fakeDiscover) GetCachedPeers() []domain.PeerInfo             { return f.peers }
func (f *fakeDiscover) StartContinuousDiscovery(context.Context) error { return nil }
func (f *fakeDiscover) StopContinuousDiscovery()                       {}

type fakeTrust struct{ added map[domain.PeerID]string }

func (f *fakeTrust) AddTrustedPeer(_ context.Context, peer domain.PeerID, nickname string) error {
	f.added[peer] = nickname
	return nil
}
func (f *fakeTrust) RemoveTrustedPeer(context.Context, domain.PeerID) error { return nil }

func newTestModel(t *testing.T) (Model, *fakeTransfer, *fakeDiscover) {
	t.Helper()
	transfer := &fakeTransfer{ch: make(chan domain.OperationStatus, 4)}
	discover := &fakeDiscover{ch: make(chan domain.PeerInfo, 4)}
	ports := Ports{
		Discover:      discover,
		Transfer:      transfer,
		Streaming:     &fakeStream{ch: make(chan domain.OperationStatus, 4)},
		Exec:          fakeExec{},
		Clipboard:     &fakeClipboard{ch: make(chan domain.OperationStatus, 4)},
		Trust:         &fakeTrust{added: map[domain.PeerID]string{}},
		Config:        config.Default(),
		QueueCapacity: 4,
	}
	return NewModel(ports, t.TempDir()), transfer, discover
}

func keyPress(s string) tea.KeyMsg {
	if s == "tab" {
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestTabCyclesThroughAllViews(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t)
	for i := 0; i < int(tabCount); i++ {
		if m.activeTab != tabID(i) {
			t.Fatalf("after %d presses activeTab = %d, want %d", i, m.activeTab, i)
		}
		next, _ := m.Update(keyPress("tab"))
		m = next.(Model)
	}
	if m.activeTab != tabPeers {
		t.Fatalf("tab did not wrap, activeTab = %d", m.activeTab)
	}
}

func TestNumberKeysJumpToPrimaryViews(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t)
	for key, want := range map[string]tabID{"3": tabTransfers, "2": tabFiles, "1": tabPeers} {
		next, _ := m.Update(keyPress(key))
		m = next.(Model)
		if m.activeTab != want {
			t.Fatalf("key %q: activeTab = %d, want %d", key, m.activeTab, want)
		}
	}
}

func TestTickDrainsEventsIntoLogAndRearms(t *testing.T) {
	t.Parallel()

	m, transfer, _ := newTestModel(t)
	transfer.ch <- domain.OperationStatus{
		OperationID:   uuid.New(),
		OperationType: domain.FileTransfer,
		State:         domain.StateFailed,
		FailureReason: "disk full",
	}

	next, cmd := m.Update(tickMsg(time.Now()))
	m = next.(Model)
	if cmd == nil {
		t.Fatal("tick must re-arm itself")
	}

	next, _ = m.Update(keyPress("3"))
	m = next.(Model)
	next, _ = m.Update(keyPress("l"))
	m = next.(Model)
	view := m.activeView()
	if !strings.Contains(view, "file_transfer failed") || !strings.Contains(view, "disk full") {
		t.Fatalf("log view missing failure entry:\n%s", view)
	}
}

func TestQuitOnQOutsideTerminalTab(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t)
	_, cmd := m.Update(keyPress("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Fatalf("q produced %v, want quit", msg)
	}
}

func TestTerminalTabKeepsPrintableKeys(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestModel(t)
	m.activeTab = tabTerminal
	next, cmd := m.Update(keyPress("q"))
	m = next.(Model)
	if cmd != nil {
		if msg := cmd(); msg == tea.Quit() {
			t.Fatal("q inside terminal tab must not quit")
		}
	}
	if m.activeTab != tabTerminal {
		t.Fatal("terminal tab lost focus on printable key")
	}
}

