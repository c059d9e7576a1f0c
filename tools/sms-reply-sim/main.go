package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Posts a simulated inbound SMS to the reminder-service webhook, the same
// form-encoded shape Twilio delivers, and prints the reply body.
func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "reminder-service base url")
		from    = flag.String("from", getenv("FROM_PHONE", ""), "sender phone in E.164")
		body    = flag.String("body", getenv("SMS_BODY", "YES"), "message body")
		sid     = flag.String("sid", "", "provider message sid (random when empty)")
	)
	flag.Parse()

	if strings.TrimSpace(*from) == "" {
		fatal("FROM_PHONE is required")
	}
	if *sid == "" {
		*sid = fmt.Sprintf("SM_test_%d", time.Now().UTC().UnixNano())
	}

	form := url.Values{}
	form.Set("From", *from)
	form.Set("Body", *body)
	form.Set("MessageSid", *sid)

	endpoint := strings.TrimRight(*baseURL, "/") + "/api/v1/sms/inbound"
	resp, err := http.PostForm(endpoint, form)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	fmt.Printf("status=%d sid=%s\nreply: %s\n", resp.StatusCode, *sid, string(reply))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
