package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantPage   int
	}{
		{"defaults", "", DefaultLimit, 0, 1},
		{"explicit", "?limit=50&offset=10", 50, 10, 1},
		{"page", "?page=3&limit=25", 25, 50, 3},
		{"page one", "?page=1", DefaultLimit, 0, 1},
		{"offset wins over page", "?page=4&offset=5&limit=10", 10, 5, 1},
		{"limit capped", "?limit=1000", MaxLimit, 0, 1},
		{"zero limit", "?limit=0", DefaultLimit, 0, 1},
		{"negative offset", "?offset=-5", DefaultLimit, 0, 1},
		{"garbage", "?limit=abc&offset=xyz&page=q", DefaultLimit, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(tt.query)
			if p.Limit != tt.wantLimit {
				t.Errorf("limit: expected %d, got %d", tt.wantLimit, p.Limit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("offset: expected %d, got %d", tt.wantOffset, p.Offset)
			}
			if p.Page() != tt.wantPage {
				t.Errorf("page: expected %d, got %d", tt.wantPage, p.Page())
			}
		})
	}
}

func TestHasNext(t *testing.T) {
	p := Params{Limit: 20, Offset: 40}
	if !p.HasNext(61) {
		t.Error("61 results past offset 40 should have a next page")
	}
	if p.HasNext(60) {
		t.Error("60 results end exactly at this page")
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"asha", "ravi"}
	r := NewResponse(data, 45, Params{Limit: 20, Offset: 20})

	if r.Total != 45 || r.Limit != 20 || r.Offset != 20 {
		t.Errorf("unexpected envelope: %+v", r)
	}
	if r.Page != 2 {
		t.Errorf("expected page 2, got %d", r.Page)
	}
	if !r.HasMore {
		t.Error("expected has_more with 5 results left")
	}

	last := NewResponse(data, 40, Params{Limit: 20, Offset: 20})
	if last.HasMore {
		t.Error("last page should not report has_more")
	}
}
