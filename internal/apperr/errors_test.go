package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsMatchesKindSentinel(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{Network("get", errors.New("refused")), ErrNetwork},
		{HTTPStatus("get", 404), ErrHTTPStatus},
		{Decode("json", errors.New("bad")), ErrDecode},
		{IO("write", errors.New("disk full")), ErrIO},
		{Config("resize", errors.New("mode")), ErrConfig},
	}
	for _, c := range cases {
		if !errors.Is(c.err, c.want) {
			t.Errorf("errors.Is(%v, %v) = false", c.err, c.want)
		}
		if errors.Is(c.err, ErrTimeout) {
			t.Errorf("%v should not match ErrTimeout", c.err)
		}
	}
}

func TestTimeoutIsAlsoNetwork(t *testing.T) {
	err := Timeout("get", errors.New("deadline"))
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrNetwork) {
		t.Fatalf("timeout should match both ErrTimeout and ErrNetwork: %v", err)
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("fetch avatar: %w", HTTPStatus("get", 503))
	if KindOf(err) != KindHTTPStatus {
		t.Errorf("KindOf = %v, want http_status", KindOf(err))
	}
	if !strings.Contains(err.Error(), "status 503") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestRetriable(t *testing.T) {
	if !Retriable(Network("get", nil)) || !Retriable(Timeout("get", nil)) {
		t.Error("network and timeout must be retriable")
	}
	if Retriable(HTTPStatus("get", 500)) || Retriable(Decode("get", nil)) {
		t.Error("status and decode must not be retriable")
	}
	if Retriable(errors.New("plain")) {
		t.Error("unclassified errors are not retriable")
	}
}
