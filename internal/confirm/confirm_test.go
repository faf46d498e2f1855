package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/ToolGate/ToolGate/internal/bus"
)

// respond answers the next confirmation request on the bus and returns
// the unsubscribe function.
func respond(b *bus.Bus, fn func(req bus.ConfirmationRequest) bus.ConfirmationResponse) func() {
	return b.Subscribe(bus.TopicConfirmationRequest, func(msg any) {
		req := msg.(bus.ConfirmationRequest)
		b.Publish(bus.TopicConfirmationResponse, fn(req))
	})
}

func TestAwaitResolvesOnMatchingCorrelation(t *testing.T) {
	b := bus.New()
	done := make(chan Result, 1)
	go func() {
		res, err := Await(context.Background(), b, "id-1")
		if err != nil {
			t.Error(err)
		}
		done <- res
	}()

	// Give the awaiter time to subscribe, then answer a foreign id first.
	time.Sleep(10 * time.Millisecond)
	b.Publish(bus.TopicConfirmationResponse, bus.ConfirmationResponse{CorrelationID: "other", Confirmed: true})
	select {
	case <-done:
		t.Fatal("resolved on a foreign correlation id")
	case <-time.After(20 * time.Millisecond):
	}

	b.Publish(bus.TopicConfirmationResponse, bus.ConfirmationResponse{CorrelationID: "id-1", Confirmed: true})
	select {
	case res := <-done:
		if res.Outcome != ProceedOnce {
			t.Fatalf("expected proceed_once, got %s", res.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("await did not resolve")
	}
}

func TestAwaitOutcomeMapping(t *testing.T) {
	cases := []struct {
		resp bus.ConfirmationResponse
		want Outcome
	}{
		{bus.ConfirmationResponse{Confirmed: true}, ProceedOnce},
		{bus.ConfirmationResponse{Confirmed: false}, Cancel},
		{bus.ConfirmationResponse{Confirmed: true, Outcome: string(ProceedAlways)}, ProceedAlways},
		{bus.ConfirmationResponse{Confirmed: false, Outcome: string(Cancel)}, Cancel},
	}
	for _, tc := range cases {
		b := bus.New()
		tc.resp.CorrelationID = "c"
		go func(resp bus.ConfirmationResponse) {
			time.Sleep(5 * time.Millisecond)
			b.Publish(bus.TopicConfirmationResponse, resp)
		}(tc.resp)
		res, err := Await(context.Background(), b, "c")
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != tc.want {
			t.Fatalf("resp %+v: expected %s, got %s", tc.resp, tc.want, res.Outcome)
		}
	}
}

func TestAwaitAlreadyAbortedDoesNotSubscribe(t *testing.T) {
	b := bus.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Await(ctx, b, "id"); err == nil {
		t.Fatal("expected context error")
	}
	if n := b.SubscriberCount(bus.TopicConfirmationResponse); n != 0 {
		t.Fatalf("aborted await must not leave a subscription, found %d", n)
	}
}

func TestAwaitUnsubscribesAfterEveryExit(t *testing.T) {
	b := bus.New()

	// Resolution path, N sequential confirmations.
	for i := 0; i < 5; i++ {
		go func() {
			time.Sleep(5 * time.Millisecond)
			b.Publish(bus.TopicConfirmationResponse, bus.ConfirmationResponse{CorrelationID: "seq", Confirmed: true})
		}()
		if _, err := Await(context.Background(), b, "seq"); err != nil {
			t.Fatal(err)
		}
	}
	if n := b.SubscriberCount(bus.TopicConfirmationResponse); n != 0 {
		t.Fatalf("listeners leaked after sequential awaits: %d", n)
	}

	// Abort path.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := Await(ctx, b, "never"); err == nil {
		t.Fatal("expected deadline error")
	}
	if n := b.SubscriberCount(bus.TopicConfirmationResponse); n != 0 {
		t.Fatalf("listener leaked after abort: %d", n)
	}
}

func TestResolveProceedOnce(t *testing.T) {
	b := bus.New()
	defer respond(b, func(req bus.ConfirmationRequest) bus.ConfirmationResponse {
		return bus.ConfirmationResponse{CorrelationID: req.CorrelationID, Confirmed: true}
	})()

	res, details, err := Resolve(context.Background(),
		CallDetails{CallID: "c1", Tool: "write_file", Args: map[string]any{"path": "/tmp/x"}},
		Deps{Bus: b})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != ProceedOnce {
		t.Fatalf("expected proceed_once, got %s", res.Outcome)
	}
	if details.Args["path"] != "/tmp/x" {
		t.Fatal("details must be unchanged without modification")
	}
}

func TestResolveAutoDeniesWithoutApprover(t *testing.T) {
	b := bus.New() // nobody subscribed to requests
	res, _, err := Resolve(context.Background(), CallDetails{CallID: "c1", Tool: "exec"}, Deps{Bus: b})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Cancel {
		t.Fatalf("absent approver must cancel, got %s", res.Outcome)
	}
}

func TestResolveModifyWithEditorLoops(t *testing.T) {
	b := bus.New()
	round := 0
	defer respond(b, func(req bus.ConfirmationRequest) bus.ConfirmationResponse {
		round++
		if round == 1 {
			return bus.ConfirmationResponse{
				CorrelationID: req.CorrelationID,
				Confirmed:     true,
				Outcome:       string(ModifyWithEditor),
			}
		}
		// Second round sees the revised arguments.
		if req.Arguments["command"] != "ls -la" {
			t.Errorf("expected revised args in re-confirmation, got %v", req.Arguments)
		}
		return bus.ConfirmationResponse{CorrelationID: req.CorrelationID, Confirmed: true}
	})()

	modify := func(ctx context.Context, details CallDetails) (map[string]any, error) {
		return map[string]any{"command": "ls -la"}, nil
	}
	res, details, err := Resolve(context.Background(),
		CallDetails{CallID: "c1", Tool: "exec", Args: map[string]any{"command": "ls"}},
		Deps{Bus: b, Modify: modify})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != ProceedOnce {
		t.Fatalf("expected proceed_once after edit, got %s", res.Outcome)
	}
	if details.Args["command"] != "ls -la" {
		t.Fatalf("expected revised details, got %v", details.Args)
	}
	if round != 2 {
		t.Fatalf("expected two confirmation rounds, got %d", round)
	}
}

func TestResolveModifyWithoutHandlerCancels(t *testing.T) {
	b := bus.New()
	defer respond(b, func(req bus.ConfirmationRequest) bus.ConfirmationResponse {
		return bus.ConfirmationResponse{
			CorrelationID: req.CorrelationID,
			Confirmed:     true,
			Outcome:       string(ModifyWithEditor),
		}
	})()

	res, _, err := Resolve(context.Background(), CallDetails{CallID: "c1", Tool: "exec"}, Deps{Bus: b})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Cancel {
		t.Fatalf("modify without a handler must cancel, got %s", res.Outcome)
	}
}

func TestPolicyUpdateFor(t *testing.T) {
	details := CallDetails{Tool: "exec", ServerName: "github", Args: map[string]any{"command": "git status"}}

	upd, ok := PolicyUpdateFor(ProceedAlways, details)
	if !ok || upd.CommandPrefix != "git status" || upd.Persist {
		t.Fatalf("unexpected update for proceed_always: %+v ok=%v", upd, ok)
	}

	upd, ok = PolicyUpdateFor(ProceedAlwaysAndSave, details)
	if !ok || !upd.Persist {
		t.Fatalf("proceed_always_and_save must persist: %+v ok=%v", upd, ok)
	}

	upd, ok = PolicyUpdateFor(ProceedAlwaysTool, details)
	if !ok || upd.CommandPrefix != "" || upd.Tool != "exec" {
		t.Fatalf("proceed_always_tool must be tool-wide: %+v ok=%v", upd, ok)
	}

	upd, ok = PolicyUpdateFor(ProceedAlwaysServer, details)
	if !ok || upd.ServerName != "github" || upd.Tool != "" {
		t.Fatalf("unexpected server update: %+v ok=%v", upd, ok)
	}

	if _, ok := PolicyUpdateFor(ProceedAlwaysServer, CallDetails{Tool: "exec"}); ok {
		t.Fatal("server outcome without a server must not produce an update")
	}
	if _, ok := PolicyUpdateFor(ProceedOnce, details); ok {
		t.Fatal("proceed_once must not change policy")
	}
	if _, ok := PolicyUpdateFor(Cancel, details); ok {
		t.Fatal("cancel must not change policy")
	}
}

func TestOutcomeProceeds(t *testing.T) {
	proceeding := []Outcome{ProceedOnce, ProceedAlways, ProceedAlwaysAndSave, ProceedAlwaysServer, ProceedAlwaysTool}
	for _, o := range proceeding {
		if !o.Proceeds() {
			t.Fatalf("%s should proceed", o)
		}
	}
	for _, o := range []Outcome{ModifyWithEditor, Cancel} {
		if o.Proceeds() {
			t.Fatalf("%s should not proceed", o)
		}
	}
}
