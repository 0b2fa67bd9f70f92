package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/shpitdev/contact-enricher/internal/mockapi"
)

func main() {
	addr := defaultString("MOCK_API_ADDR", ":8080")
	sheetDir := defaultString("MOCK_API_SHEET_DIR", "/data/sheets")
	peopleFile := defaultString("MOCK_API_PEOPLE", "")
	apiKey := defaultString("MOCK_API_KEY", "")
	privateIDs := defaultString("MOCK_API_PRIVATE_SHEETS", "")
	quota := defaultString("MOCK_API_QUOTA", "-1")

	fs := flag.NewFlagSet("mock-api", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&sheetDir, "sheet-dir", sheetDir, "Directory containing sheets named <id>.csv or <id>.xlsx")
	fs.StringVar(&peopleFile, "people", peopleFile, `JSON file mapping full names to {"city": "...", "job_title": "..."}`)
	fs.StringVar(&apiKey, "api-key", apiKey, "Reject generateContent calls using any other key (empty accepts all)")
	fs.StringVar(&privateIDs, "private-sheets", privateIDs, "Comma-separated sheet ids that answer with a sign-in page")
	fs.StringVar(&quota, "quota", quota, "generateContent calls answered before returning 429 (negative is unlimited)")
	_ = fs.Parse(os.Args[1:])

	n, err := strconv.Atoi(quota)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid quota %q: %v\n", quota, err)
		os.Exit(2)
	}

	srv := mockapi.New(sheetDir)
	srv.RequireAPIKey(apiKey)
	srv.SetQuota(n)
	for _, id := range splitCSV(privateIDs) {
		srv.MarkPrivate(id)
	}
	if peopleFile != "" {
		if err := loadPeople(srv, peopleFile); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "load people: %v\n", err)
			os.Exit(2)
		}
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-api listening on %s (sheets=%s)\n", addr, sheetDir)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func loadPeople(srv *mockapi.Server, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var people map[string]mockapi.Person
	if err := json.Unmarshal(b, &people); err != nil {
		return err
	}
	for name, p := range people {
		srv.AddPerson(name, p)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
