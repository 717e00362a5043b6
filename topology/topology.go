// Package topology derives the distributed-run topology from the environment
// variables a launcher such as torchrun sets. The syncer itself is topology
// agnostic; the values are surfaced at startup so operators can tell which
// node of a run produced which logs.
package topology

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	envRank           = "RANK"
	envWorldSize      = "WORLD_SIZE"
	envLocalRank      = "LOCAL_RANK"
	envLocalWorldSize = "LOCAL_WORLD_SIZE"
	envNodeGroupSizes = "NODE_GROUP_SIZES"
)

// Info describes where this process sits in a distributed run.
type Info struct {
	Rank           int
	WorldSize      int
	LocalRank      int
	LocalWorldSize int

	// NodeGroupSizes supports uneven node groups; when set it must sum to
	// WorldSize and overrides LocalRank/LocalWorldSize.
	NodeGroupSizes []int

	NumNodes  int
	NodeIndex int
}

// FromEnv builds the topology from the environment, defaulting to a
// single-process run when the launcher variables are absent.
func FromEnv() (*Info, error) {
	rank, err := intFromEnv(envRank, 0)
	if err != nil {
		return nil, err
	}
	worldSize, err := intFromEnv(envWorldSize, 1)
	if err != nil {
		return nil, err
	}
	localRank, err := intFromEnv(envLocalRank, 0)
	if err != nil {
		return nil, err
	}
	localWorldSize, err := intFromEnv(envLocalWorldSize, 1)
	if err != nil {
		return nil, err
	}
	groups, err := groupsFromEnv()
	if err != nil {
		return nil, err
	}
	return New(rank, worldSize, localRank, localWorldSize, groups)
}

// New builds and validates a topology explicitly.
func New(rank, worldSize, localRank, localWorldSize int, groups []int) (*Info, error) {
	info := &Info{
		Rank:           rank,
		WorldSize:      worldSize,
		LocalRank:      localRank,
		LocalWorldSize: localWorldSize,
		NodeGroupSizes: groups,
	}
	if worldSize <= 0 {
		return nil, fmt.Errorf("world size %d must be positive", worldSize)
	}
	if rank < 0 || rank >= worldSize {
		return nil, fmt.Errorf("rank %d out of range of world size %d", rank, worldSize)
	}
	if len(groups) > 0 {
		sum := 0
		for _, size := range groups {
			sum += size
		}
		if sum != worldSize {
			return nil, fmt.Errorf("node group sizes sum %d does not match world size %d", sum, worldSize)
		}
		cumulative := 0
		for idx, size := range groups {
			if rank < cumulative+size {
				info.LocalRank = rank - cumulative
				info.LocalWorldSize = size
				info.NodeIndex = idx
				break
			}
			cumulative += size
		}
		info.NumNodes = len(groups)
		return info, nil
	}
	if localWorldSize <= 0 {
		return nil, fmt.Errorf("local world size %d must be positive", localWorldSize)
	}
	if worldSize%localWorldSize != 0 {
		return nil, fmt.Errorf("world size %d not divisible by local world size %d", worldSize, localWorldSize)
	}
	if localRank < 0 || localRank >= localWorldSize {
		return nil, fmt.Errorf("local rank %d out of range of local world size %d", localRank, localWorldSize)
	}
	info.NumNodes = worldSize / localWorldSize
	info.NodeIndex = rank / localWorldSize
	return info, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	value, found := os.LookupEnv(key)
	if !found || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %v=%q: %w", key, value, err)
	}
	return n, nil
}

func groupsFromEnv() ([]int, error) {
	value, found := os.LookupEnv(envNodeGroupSizes)
	if !found || value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	groups := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("parse %v=%q: %w", envNodeGroupSizes, value, err)
		}
		groups = append(groups, n)
	}
	return groups, nil
}
