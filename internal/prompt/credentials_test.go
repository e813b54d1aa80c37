package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func typeText(m CredentialsModel, s string) CredentialsModel {
	result, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return result.(CredentialsModel)
}

func press(m CredentialsModel, k tea.KeyType) (CredentialsModel, tea.Cmd) {
	result, cmd := m.Update(tea.KeyMsg{Type: k})
	return result.(CredentialsModel), cmd
}

func TestNewCredentialsModel_FocusesFirstEmpty(t *testing.T) {
	m := NewCredentialsModel(Credentials{Endpoint: "https://a/v1"}, nil)
	if m.focused != fieldProject {
		t.Errorf("expected focus on project, got %d", m.focused)
	}
	if m.Done() {
		t.Error("should not be done initially")
	}

	m = NewCredentialsModel(Credentials{}, nil)
	if m.focused != fieldEndpoint {
		t.Errorf("expected focus on endpoint, got %d", m.focused)
	}
}

func TestCredentialsModel_TypeAndSubmit(t *testing.T) {
	m := NewCredentialsModel(Credentials{}, nil)

	m = typeText(m, "https://appwrite.local/v1")
	m, _ = press(m, tea.KeyEnter)
	m = typeText(m, "proj")
	m, _ = press(m, tea.KeyEnter)
	m = typeText(m, "secret")
	m, cmd := press(m, tea.KeyEnter)
	if cmd == nil {
		t.Fatal("expected submit command")
	}

	msg, ok := cmd().(verifyDoneMsg)
	if !ok {
		t.Fatalf("expected verifyDoneMsg, got %T", cmd())
	}
	result, _ := m.Update(msg)
	m = result.(CredentialsModel)

	if !m.Done() || m.Result() == nil {
		t.Fatal("expected completed form")
	}
	want := Credentials{Endpoint: "https://appwrite.local/v1", ProjectID: "proj", APIKey: "secret"}
	if *m.Result() != want {
		t.Errorf("got %+v, want %+v", *m.Result(), want)
	}
}

func TestCredentialsModel_APIKeyMasked(t *testing.T) {
	m := NewCredentialsModel(Credentials{Endpoint: "https://a/v1", ProjectID: "p"}, nil)
	m = typeText(m, "topsecret")
	if strings.Contains(m.View(), "topsecret") {
		t.Error("API key should not be echoed")
	}
}

func TestCredentialsModel_Validation(t *testing.T) {
	tests := []struct {
		name    string
		initial Credentials
		want    string
	}{
		{"no endpoint", Credentials{ProjectID: "p", APIKey: "k"}, "Endpoint is required"},
		{"bad endpoint", Credentials{Endpoint: "appwrite.local", ProjectID: "p", APIKey: "k"}, "Endpoint must start with http:// or https://"},
		{"no project", Credentials{Endpoint: "https://a/v1", APIKey: "k"}, "Project ID is required"},
		{"no key", Credentials{Endpoint: "https://a/v1", ProjectID: "p"}, "API key is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewCredentialsModel(tt.initial, nil)
			m.focused = fieldAPIKey
			m, cmd := press(m, tea.KeyEnter)
			if cmd != nil {
				t.Error("invalid form should not submit")
			}
			if m.Err() == nil || m.Err().Error() != tt.want {
				t.Fatalf("expected %q, got %v", tt.want, m.Err())
			}
			if !strings.Contains(m.View(), tt.want) {
				t.Error("view should show the problem")
			}
		})
	}
}

func TestCredentialsModel_VerifyFailureThenRetry(t *testing.T) {
	calls := 0
	verify := func(_ context.Context, c Credentials) error {
		calls++
		if c.APIKey == "bad" {
			return errors.New("invalid API key")
		}
		return nil
	}
	m := NewCredentialsModel(Credentials{Endpoint: "https://a/v1", ProjectID: "p", APIKey: "bad"}, verify)
	m.focused = fieldAPIKey

	m, cmd := press(m, tea.KeyEnter)
	if cmd == nil || !m.verifying {
		t.Fatal("expected verification to start")
	}
	if !strings.Contains(m.View(), "Connecting to Appwrite...") {
		t.Error("view should show the spinner")
	}

	// keys other than ctrl+c are ignored while verifying
	m = typeText(m, "x")
	if m.values().APIKey != "bad" {
		t.Errorf("input changed during verification: %q", m.values().APIKey)
	}

	result, _ := m.Update(verifyDoneMsg{creds: m.values(), err: verify(context.Background(), m.values())})
	m = result.(CredentialsModel)
	if m.Done() || m.Err() == nil {
		t.Fatal("failed verification should keep the form open")
	}
	if !strings.Contains(m.View(), "invalid API key") {
		t.Error("view should show the verification error")
	}

	m.inputs[fieldAPIKey].SetValue("good")
	creds := m.values()
	result, _ = m.Update(verifyDoneMsg{creds: creds, err: verify(context.Background(), creds)})
	m = result.(CredentialsModel)
	if !m.Done() || m.Result() == nil || m.Result().APIKey != "good" {
		t.Fatalf("expected success after retry, got %+v", m.Result())
	}
	if calls != 2 {
		t.Errorf("expected 2 verify calls, got %d", calls)
	}
}

func TestCredentialsModel_Navigation(t *testing.T) {
	m := NewCredentialsModel(Credentials{}, nil)
	m, _ = press(m, tea.KeyTab)
	if m.focused != fieldProject {
		t.Errorf("tab: focus %d", m.focused)
	}
	m, _ = press(m, tea.KeyShiftTab)
	m, _ = press(m, tea.KeyShiftTab)
	if m.focused != fieldAPIKey {
		t.Errorf("shift+tab should wrap, focus %d", m.focused)
	}
}

func TestCredentialsModel_Cancel(t *testing.T) {
	for _, k := range []tea.KeyType{tea.KeyEsc, tea.KeyCtrlC} {
		m := NewCredentialsModel(Credentials{}, nil)
		m, cmd := press(m, k)
		if !m.Done() || m.Result() != nil || !errors.Is(m.Err(), ErrCancelled) {
			t.Errorf("key %v should cancel", k)
		}
		if cmd == nil {
			t.Errorf("key %v should quit", k)
		}
	}
}
