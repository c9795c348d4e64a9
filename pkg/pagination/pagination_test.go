package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext("/"))
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("unexpected defaults %+v", p)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(newContext("/?limit=50&offset=10"))
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestFromContext_Clamps(t *testing.T) {
	p := FromContext(newContext("/?limit=500&offset=-4"))
	if p.Limit != MaxLimit || p.Offset != 0 {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestLimit(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"/", 5, false},
		{"/?limit=", 5, false},
		{"/?limit=12", 12, false},
		{"/?limit=0", 5, false},
		{"/?limit=-3", 5, false},
		{"/?limit=1000", 100, false},
		{"/?limit=ten", 0, true},
	}
	for _, tt := range tests {
		got, err := Limit(newContext(tt.query), 5, 100)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: unexpected error state %v", tt.query, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestBounds(t *testing.T) {
	tests := []struct {
		p          Params
		n          int
		start, end int
	}{
		{Params{Limit: 2, Offset: 0}, 5, 0, 2},
		{Params{Limit: 2, Offset: 4}, 5, 4, 5},
		{Params{Limit: 2, Offset: 9}, 5, 5, 5},
	}
	for _, tt := range tests {
		s, e := tt.p.Bounds(tt.n)
		if s != tt.start || e != tt.end {
			t.Errorf("%+v.Bounds(%d) = [%d,%d), want [%d,%d)", tt.p, tt.n, s, e, tt.start, tt.end)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if r := NewResponse(nil, 10, 5, 0); !r.HasMore {
		t.Error("expected more results")
	}
	if r := NewResponse(nil, 10, 5, 5); r.HasMore {
		t.Error("expected last page")
	}
}
