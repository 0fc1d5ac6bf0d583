package mdns

import (
	"testing"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"matterctl/internal/matter/mdnsquery"
)

func TestBuildQueryQuestionOnlyWithNoKnownAnswers(t *testing.T) {
	q := dnsmessage.Question{Name: mustName(t, "foo.local."), Type: dnsmessage.TypeAAAA, Class: dnsmessage.ClassINET}
	packets, err := BuildQuery([]dnsmessage.Question{q}, nil)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("expected exactly one packet, got %d", len(packets))
	}

	var msg dnsmessage.Message
	if err := msg.Unpack(packets[0]); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(msg.Questions) != 1 || len(msg.Answers) != 0 {
		t.Fatalf("expected one question and no answers, got %+v", msg)
	}
	if msg.Header.Truncated {
		t.Fatal("expected Truncated unset for a single packet")
	}
}

func TestBuildQueryCarriesKnownAnswerRData(t *testing.T) {
	rdata, err := srvRData("dev.local.", 5540)
	if err != nil {
		t.Fatalf("srvRData: %v", err)
	}
	known := [][]mdnsquery.KnownAnswer{{{
		Name:         "inst._matter._tcp.local.",
		Type:         uint16(dnsmessage.TypeSRV),
		Class:        uint16(dnsmessage.ClassINET),
		TTLRemaining: 30 * time.Second,
		RDataLen:     len(rdata),
		RData:        rdata,
	}}}
	q := dnsmessage.Question{Name: mustName(t, "inst._matter._tcp.local."), Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET}

	packets, err := BuildQuery([]dnsmessage.Question{q}, known)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("expected one packet, got %d", len(packets))
	}

	var msg dnsmessage.Message
	if err := msg.Unpack(packets[0]); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(msg.Questions) != 1 {
		t.Fatalf("expected the question to ride in the single packet, got %d", len(msg.Questions))
	}
	if len(msg.Answers) != 1 {
		t.Fatalf("expected one known-answer resource, got %d", len(msg.Answers))
	}
	srv, ok := msg.Answers[0].Body.(*dnsmessage.SRVResource)
	if !ok {
		t.Fatalf("expected an SRV resource body, got %T", msg.Answers[0].Body)
	}
	if srv.Port != 5540 || srv.Target.String() != "dev.local." {
		t.Fatalf("unexpected known-answer SRV contents: %+v", srv)
	}
	if msg.Header.Truncated {
		t.Fatal("expected Truncated unset when everything fits in one packet")
	}
}

func TestBuildQuerySplitsOversizedKnownAnswersAndSetsTruncated(t *testing.T) {
	big := make([]byte, 1400)
	known := [][]mdnsquery.KnownAnswer{
		{{Name: "inst._matter._tcp.local.", Type: uint16(dnsmessage.TypeTXT), Class: uint16(dnsmessage.ClassINET), RDataLen: len(big), RData: big}},
		{{Name: "inst._matter._tcp.local.", Type: uint16(dnsmessage.TypeTXT), Class: uint16(dnsmessage.ClassINET), RDataLen: len(big), RData: big}},
	}
	q := dnsmessage.Question{Name: mustName(t, "inst._matter._tcp.local."), Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET}

	packets, err := BuildQuery([]dnsmessage.Question{q}, known)
	if err != nil {
		t.Fatalf("BuildQuery: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("expected two packets, got %d", len(packets))
	}

	var first dnsmessage.Message
	if err := first.Unpack(packets[0]); err != nil {
		t.Fatalf("unpack first: %v", err)
	}
	if len(first.Questions) != 1 {
		t.Fatalf("expected the question in the first packet, got %d", len(first.Questions))
	}
	if !first.Header.Truncated {
		t.Fatal("expected Truncated set on the first of two packets")
	}

	var second dnsmessage.Message
	if err := second.Unpack(packets[1]); err != nil {
		t.Fatalf("unpack second: %v", err)
	}
	if len(second.Questions) != 0 {
		t.Fatalf("expected the continuation packet to carry no questions, got %d", len(second.Questions))
	}
	if second.Header.Truncated {
		t.Fatal("expected Truncated unset on the final packet")
	}
}
