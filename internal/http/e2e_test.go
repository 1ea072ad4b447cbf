package httpapp

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentpay/tagbook/internal/client"
)

// Exercises the whole stack the way an agent would: register two tags, swap
// wallet addresses, record a receipt from one side, read it back from both.
func TestEndToEnd(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t))
	defer srv.Close()

	alice := client.New(srv.URL)
	reg, err := alice.Register("alice", "0xalice")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	alice.Secret = reg.Secret

	if _, err := alice.Register("alice", ""); !errors.Is(err, client.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	bob := client.New(srv.URL)
	bobReg, err := bob.Register("bob", "")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	bob.Secret = bobReg.Secret

	if _, err := bob.UpdateWallet("0xbob"); err != nil {
		t.Fatalf("update bob wallet: %v", err)
	}
	looked, err := alice.Lookup("bob")
	if err != nil {
		t.Fatalf("lookup bob: %v", err)
	}
	if looked.WalletAddress != "0xbob" {
		t.Fatalf("bob wallet not visible: %q", looked.WalletAddress)
	}

	created, err := alice.CreateReceipt("0xsig", "task 7 payout", "alice", "bob", "1000000000000000000")
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	if !strings.HasSuffix(created.URL, "/receipts/"+created.Receipt.ID) {
		t.Fatalf("unexpected receipt url: %s", created.URL)
	}

	for name, c := range map[string]*client.Client{"alice": alice, "bob": bob} {
		got, err := c.GetReceipt(created.Receipt.ID)
		if err != nil {
			t.Fatalf("%s get receipt: %v", name, err)
		}
		if got.Amount != "1000000000000000000" || got.FromTag != "alice" || got.ToTag != "bob" {
			t.Fatalf("%s sees wrong receipt: %+v", name, got)
		}

		page, err := c.ListReceipts(10, "")
		if err != nil {
			t.Fatalf("%s list receipts: %v", name, err)
		}
		if len(page.Receipts) != 1 || page.Receipts[0].ID != created.Receipt.ID {
			t.Fatalf("%s list: %+v", name, page.Receipts)
		}
		if page.NextCursor != "" {
			t.Fatalf("%s got cursor on exhausted listing: %q", name, page.NextCursor)
		}
	}

	eve := client.New(srv.URL)
	eveReg, err := eve.Register("eve", "")
	if err != nil {
		t.Fatalf("register eve: %v", err)
	}
	eve.Secret = eveReg.Secret
	if _, err := eve.GetReceipt(created.Receipt.ID); err == nil {
		t.Fatal("eve should not see the receipt")
	}

	if err := alice.UploadObject("tokens/acme/logo.png", []byte{0x89, 'P', 'N', 'G'}); err != nil {
		t.Fatalf("upload object: %v", err)
	}

	health, err := alice.Health()
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health["status"] != "ok" {
		t.Fatalf("unexpected health: %v", health)
	}
}
