package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/vectorfy/migratemail/internal/testutil"
)

func staticToken() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(staticToken(),
		WithBaseURLs(srv.URL, srv.URL),
		WithRateLimit(1000),
	)
	return client, srv
}

func TestGetProfile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/profile" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"emailAddress":"me@gmail.com","messagesTotal":1234,"threadsTotal":567}`)
	}))

	profile, err := client.GetProfile(context.Background())
	testutil.MustNoErr(t, err, "get profile")
	if profile.EmailAddress != "me@gmail.com" || profile.MessagesTotal != 1234 || profile.ThreadsTotal != 567 {
		t.Errorf("unexpected profile: %+v", profile)
	}
}

func TestListAndCreateLabels(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/labels" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"labels":[{"id":"INBOX","name":"INBOX","type":"system"}]}`)
		case http.MethodPost:
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode create body: %v", err)
			}
			fmt.Fprintf(w, `{"id":"Label_1","name":%q,"type":"user"}`, body["name"])
		default:
			t.Errorf("method = %s", r.Method)
		}
	}))

	ctx := context.Background()
	labels, err := client.ListLabels(ctx)
	testutil.MustNoErr(t, err, "list labels")
	if len(labels) != 1 || labels[0].ID != "INBOX" {
		t.Errorf("labels = %+v", labels)
	}

	label, err := client.CreateLabel(ctx, "iCloud/Receipts")
	testutil.MustNoErr(t, err, "create label")
	if label.ID != "Label_1" || label.Name != "iCloud/Receipts" {
		t.Errorf("label = %+v", label)
	}
}

func TestIngestMultipart(t *testing.T) {
	raw := []byte("From: a@x.com\r\n\r\nbody")

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/messages/import" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("uploadType") != "multipart" || q.Get("internalDateSource") != "dateHeader" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/related" {
			t.Fatalf("content type = %q (%v)", mediaType, err)
		}
		mr := multipart.NewReader(r.Body, params["boundary"])

		meta, err := mr.NextPart()
		if err != nil {
			t.Fatalf("metadata part: %v", err)
		}
		var metadata struct {
			LabelIDs []string `json:"labelIds"`
		}
		if err := json.NewDecoder(meta).Decode(&metadata); err != nil {
			t.Fatalf("decode metadata: %v", err)
		}
		testutil.AssertStrings(t, metadata.LabelIDs, "INBOX", "Label_1")

		msg, err := mr.NextPart()
		if err != nil {
			t.Fatalf("message part: %v", err)
		}
		if ct := msg.Header.Get("Content-Type"); ct != "message/rfc822" {
			t.Errorf("message part content type = %q", ct)
		}
		body, _ := io.ReadAll(msg)
		if string(body) != string(raw) {
			t.Errorf("message body = %q", body)
		}

		fmt.Fprint(w, `{"id":"msg-1","threadId":"thread-1","labelIds":["INBOX","Label_1"]}`)
	}))

	res, err := client.Ingest(context.Background(), raw, []string{"INBOX", "Label_1"}, ModeImport, DateSourceHeader)
	testutil.MustNoErr(t, err, "ingest")
	if res.MessageID != "msg-1" || res.ThreadID != "thread-1" {
		t.Errorf("result = %+v", res)
	}
}

func TestWithUserIDChangesPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/target@example.com/profile" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"emailAddress":"target@example.com"}`)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(staticToken(),
		WithBaseURLs(srv.URL, srv.URL),
		WithRateLimit(1000),
		WithUserID("target@example.com"),
	)

	_, err := client.GetProfile(context.Background())
	testutil.MustNoErr(t, err, "get profile")

	// Empty keeps "me".
	c := NewClient(staticToken(), WithUserID(""))
	if c.userID != "me" {
		t.Errorf("userID = %q, want me", c.userID)
	}
}

func TestIngestOmitsEmptyLabelIDs(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Fatalf("content type: %v", err)
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		meta, err := mr.NextPart()
		if err != nil {
			t.Fatalf("metadata part: %v", err)
		}
		var metadata map[string]any
		if err := json.NewDecoder(meta).Decode(&metadata); err != nil {
			t.Fatalf("decode metadata: %v", err)
		}
		if _, present := metadata["labelIds"]; present {
			t.Errorf("metadata includes labelIds for an empty label set: %v", metadata)
		}
		fmt.Fprint(w, `{"id":"m","threadId":"t"}`)
	}))

	_, err := client.Ingest(context.Background(), []byte("x"), nil, ModeImport, DateSourceHeader)
	testutil.MustNoErr(t, err, "ingest without labels")
}

func TestIngestInsertEndpoint(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages/insert") {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"m","threadId":"t"}`)
	}))

	_, err := client.Ingest(context.Background(), []byte("x"), nil, ModeInsert, DateSourceReceived)
	testutil.MustNoErr(t, err, "ingest insert")
}

func TestIngestMissingIDIsError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))

	_, err := client.Ingest(context.Background(), []byte("x"), nil, ModeImport, DateSourceHeader)
	var ierr *IngestError
	if !errors.As(err, &ierr) {
		t.Fatalf("err = %v, want IngestError", err)
	}
}

func TestRequestRetriesServerErrors(t *testing.T) {
	var calls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "temporarily broken", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"emailAddress":"me@gmail.com"}`)
	}))

	_, err := client.GetProfile(context.Background())
	testutil.MustNoErr(t, err, "get profile after retries")
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRequestDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := client.GetProfile(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
