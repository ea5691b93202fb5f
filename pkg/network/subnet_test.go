// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package network

import "testing"

func testPool() SubnetPool {
	return SubnetPool{
		Name:              "default",
		BaseOctets:        [4]byte{10, 20, 0, 0},
		HostBitsPerSubnet: 8,
		Capacity:          4096,
	}
}

func TestSubnetAllocatorUnique(t *testing.T) {
	a := newSubnetAllocator([]SubnetPool{testPool()})

	seen := make(map[string]bool)

	for i := 0; i < 300; i++ {
		owner := string(rune('a' + (i % 26)))
		subnet, err := a.allocate(owner + string(rune(i)))
		if err != nil {
			t.Fatalf("allocate #%d: %v", i, err)
		}

		if seen[subnet] {
			t.Fatalf("subnet %s allocated twice", subnet)
		}

		seen[subnet] = true
	}
}

func TestSubnetAllocatorReuseSameOwner(t *testing.T) {
	a := newSubnetAllocator([]SubnetPool{testPool()})

	first, err := a.allocate("session-1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	second, err := a.allocate("session-1")
	if err != nil {
		t.Fatalf("allocate again: %v", err)
	}

	if first != second {
		t.Errorf("expected same owner to get same subnet, got %s then %s", first, second)
	}
}

func TestSubnetAllocatorReleaseFreesForReuseTracking(t *testing.T) {
	a := newSubnetAllocator([]SubnetPool{testPool()})

	subnet, err := a.allocate("session-1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	a.release("session-1")

	if a.live[subnet] {
		t.Errorf("expected subnet %s to be released from the live set", subnet)
	}

	if _, ok := a.byOwner["session-1"]; ok {
		t.Errorf("expected owner mapping to be cleared on release")
	}
}

func TestSubnetAllocatorExhaustion(t *testing.T) {
	pool := SubnetPool{Name: "tiny", BaseOctets: [4]byte{10, 0, 0, 0}, HostBitsPerSubnet: 8, Capacity: 2}
	a := newSubnetAllocator([]SubnetPool{pool})

	if _, err := a.allocate("a"); err != nil {
		t.Fatalf("allocate a: %v", err)
	}

	if _, err := a.allocate("b"); err != nil {
		t.Fatalf("allocate b: %v", err)
	}

	if _, err := a.allocate("c"); err == nil {
		t.Error("expected exhaustion error on third allocation from a 2-subnet pool")
	}
}

// TestSubnetAllocatorDeliversFullCapacityAtNarrowerHostBits exercises the
// production pool shape (a /16 carved into /28s, HostBitsPerSubnet: 4,
// Capacity: 4096 per cmd/orchestrator/app/types.go) and asserts every one
// of the 4096 subnets it promises is actually reachable and distinct.
func TestSubnetAllocatorDeliversFullCapacityAtNarrowerHostBits(t *testing.T) {
	pool := SubnetPool{
		Name:              "default",
		BaseOctets:        [4]byte{172, 30, 0, 0},
		HostBitsPerSubnet: 4,
		Capacity:          4096,
	}
	a := newSubnetAllocator([]SubnetPool{pool})

	seen := make(map[string]bool)

	for i := 0; i < pool.Capacity; i++ {
		owner := string(rune(i)) + "-owner"

		subnet, err := a.allocate(owner)
		if err != nil {
			t.Fatalf("allocate #%d: %v", i, err)
		}

		if seen[subnet] {
			t.Fatalf("subnet %s allocated twice (at #%d)", subnet, i)
		}

		seen[subnet] = true
	}

	if _, err := a.allocate("one-too-many"); err == nil {
		t.Error("expected exhaustion error once all 4096 /28 subnets are allocated")
	}
}

func TestSubnetAllocatorSeedLiveFromEngine(t *testing.T) {
	a := newSubnetAllocator([]SubnetPool{testPool()})
	a.seedLiveFromEngine([]string{"10.20.0.0/24"})

	if !a.live["10.20.0.0/24"] {
		t.Error("expected seeded subnet to be marked live")
	}
}
