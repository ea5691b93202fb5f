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

// Package network gives each live session a distinct, isolated bridge
// network with a non-colliding subnet, and reclaims both when the session
// ends or is judged orphaned.
package network

import (
	"fmt"
	"net"
	"sync"
)

// SubnetPool is one configured carve-up of an address range into
// fixed-size subnets: a /16 carved into /28s, a /12 carved into /24s, etc.
type SubnetPool struct {
	Name              string
	BaseOctets        [4]byte
	HostBitsPerSubnet int
	Capacity          int
}

// subnetAllocator hands out subnets from an ordered list of pools using a
// dense, monotonic per-pool counter: the k-th allocation from a pool
// deterministically encodes k into that pool's subnet octets. Released
// subnets are removed from the live set but the counter is never rewound,
// so identifiers stay unique for the life of the process.
type subnetAllocator struct {
	mu      sync.Mutex
	pools   []SubnetPool
	next    []int            // per-pool next counter value to try
	live    map[string]bool  // subnet CIDR -> allocated
	byOwner map[string]string // owner key -> subnet CIDR, for release
}

func newSubnetAllocator(pools []SubnetPool) *subnetAllocator {
	return &subnetAllocator{
		pools:   pools,
		next:    make([]int, len(pools)),
		live:    make(map[string]bool),
		byOwner: make(map[string]string),
	}
}

// allocate returns the next free subnet across the configured pools,
// skipping any pool that has reached its capacity, and records it against
// owner so release can find it later.
func (a *subnetAllocator) allocate(owner string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.byOwner[owner]; ok {
		return existing, nil
	}

	for i, pool := range a.pools {
		for a.next[i] < pool.Capacity {
			k := a.next[i]
			a.next[i]++

			subnet := generateSubnet(pool, k)
			if a.live[subnet] {
				continue
			}

			a.live[subnet] = true
			a.byOwner[owner] = subnet

			return subnet, nil
		}
	}

	return "", fmt.Errorf("subnet pools exhausted: %d pools, all at capacity", len(a.pools))
}

// release frees the subnet held by owner, if any.
func (a *subnetAllocator) release(owner string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	subnet, ok := a.byOwner[owner]
	if !ok {
		return
	}

	delete(a.live, subnet)
	delete(a.byOwner, owner)
}

// stats reports per-pool allocation counts for getSubnetStats.
func (a *subnetAllocator) stats() []PoolStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]PoolStats, len(a.pools))

	for i, pool := range a.pools {
		out[i] = PoolStats{
			Name:      pool.Name,
			Allocated: a.next[i],
			Capacity:  pool.Capacity,
		}
	}

	return out
}

// PoolStats summarizes one subnet pool's utilization.
type PoolStats struct {
	Name      string
	Allocated int
	Capacity  int
}

// generateSubnet deterministically derives the k-th subnet of pool from its
// base octets, carrying overflow into higher octets the same way a plain
// counter would.
func generateSubnet(pool SubnetPool, k int) string {
	hostBits := pool.HostBitsPerSubnet
	subnetsPerOctet := 256 >> uint(hostBits)

	o3 := int(pool.BaseOctets[2]) + (k / subnetsPerOctet)
	o2 := int(pool.BaseOctets[1]) + (o3 / 256)
	o3 %= 256
	o1 := int(pool.BaseOctets[0]) + (o2 / 256)
	o2 %= 256
	o4 := (k % subnetsPerOctet) * (1 << uint(hostBits)) % 256

	prefixLen := 32 - hostBits

	return fmt.Sprintf("%d.%d.%d.%d/%d", o1%256, o2, o3, o4, prefixLen)
}

// seedLiveFromEngine marks every subnet already in use by a live engine
// network as allocated, so a restarted process does not hand out a subnet
// the engine is already using.
func (a *subnetAllocator) seedLiveFromEngine(subnets []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range subnets {
		if s == "" {
			continue
		}

		if _, _, err := net.ParseCIDR(s); err != nil {
			continue
		}

		a.live[s] = true
	}
}
