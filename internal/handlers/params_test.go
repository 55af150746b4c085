package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestReadParamsPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/cart/?session_key=from-query&coupon=Q", strings.NewReader(`{"session_key":"from-body"}`))
	req.Header.Set("Content-Type", "application/json")

	params, err := readParams(req)
	if err != nil {
		t.Fatalf("readParams: %v", err)
	}
	if got := params.String("session_key"); got != "from-body" {
		t.Fatalf("expected body to win, got %q", got)
	}
	if got := params.String("coupon"); got != "Q" {
		t.Fatalf("expected query fallback, got %q", got)
	}
}

func TestReadParamsFormBrackets(t *testing.T) {
	form := url.Values{
		"billing[first_name]":           {"Asha"},
		"fee_lines[1][name]":            {"COD Charges"},
		"fee_lines[0][name]":            {"Prepaid Discount"},
		"fee_lines[0][discount_source]": {"gkp"},
		"set_paid":                      {"true"},
	}
	req := httptest.NewRequest(http.MethodPost, "/cart/place-order", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	params, err := readParams(req)
	if err != nil {
		t.Fatalf("readParams: %v", err)
	}
	if params.StringMap("billing")["first_name"] != "Asha" {
		t.Fatalf("unexpected billing %v", params["billing"])
	}
	fees := params.Objects("fee_lines")
	if len(fees) != 2 || fees[0]["name"] != "Prepaid Discount" || fees[1]["name"] != "COD Charges" {
		t.Fatalf("unexpected fee ordering %v", fees)
	}
	if !params.Bool("set_paid") {
		t.Fatal("expected set_paid true")
	}
}

func TestReadParamsRejectsNonObjectJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/cart/", strings.NewReader(`["x"]`))
	req.Header.Set("Content-Type", "application/json")
	if _, err := readParams(req); err != errNotJSONObject {
		t.Fatalf("expected errNotJSONObject, got %v", err)
	}
}

func TestReadParamsBodyLimit(t *testing.T) {
	big := `{"note":"` + strings.Repeat("a", maxParamsBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/cart/", strings.NewReader(big))
	if _, err := readParams(req); err != errBodyTooLarge {
		t.Fatalf("expected errBodyTooLarge, got %v", err)
	}
}
