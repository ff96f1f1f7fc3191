package object

import "testing"

func TestAddPreservesRegistrationOrder(t *testing.T) {
	s := NewSet()
	a := s.Add(New("a", Serial, 64))
	b := s.Add(New("b", Serial, 64))
	c := s.Add(New("c", Serial, 64))

	got := s.All()
	if len(got) != 3 || got[0] != a || got[1] != b || got[2] != c {
		t.Fatalf("expected registration order a,b,c, got %+v", got)
	}
}

func TestRemoveDetachesFromPeerLists(t *testing.T) {
	s := NewSet()
	console := s.Add(New("console", Serial, 64))
	client1 := s.Add(New("client1", Client, 64))
	client2 := s.Add(New("client2", Client, 64))

	AddWriterPeer(console, client1)
	AddWriterPeer(console, client2)

	s.Remove(client1)

	if len(console.WriterPeers) != 1 || console.WriterPeers[0] != client2 {
		t.Fatalf("expected client1 removed from console's writer peers, got %+v", console.WriterPeers)
	}
	if _, ok := s.ByName("client1"); ok {
		t.Fatalf("expected client1 removed from set")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 objects remaining, got %d", s.Len())
	}
}

func TestByNameLookup(t *testing.T) {
	s := NewSet()
	s.Add(New("serial0", Serial, 64))
	o, ok := s.ByName("serial0")
	if !ok || o.Name != "serial0" {
		t.Fatalf("expected to find serial0")
	}
	if _, ok := s.ByName("missing"); ok {
		t.Fatalf("expected missing name to not be found")
	}
}
