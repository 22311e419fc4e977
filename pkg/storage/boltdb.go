package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/deployd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketEnvironments = []byte("environments")
	bucketDeploys      = []byte("deploys")
	bucketBuilds       = []byte("builds")
	bucketBuildTags    = []byte("build_tags")
	bucketHosts        = []byte("hosts")
	bucketAgents       = []byte("agents")
	bucketPromotes     = []byte("promotes")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "deployd.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEnvironments,
			bucketDeploys,
			bucketBuilds,
			bucketBuildTags,
			bucketHosts,
			bucketAgents,
			bucketPromotes,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key, kind string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %w: %s", kind, ErrNotFound, key)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// scan decodes every value of bucket whose key starts with prefix
func scan[T any](s *BoltStore, bucket []byte, prefix string, keep func(*T) bool) ([]*T, error) {
	var out []*T
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to decode %s/%s: %w", bucket, k, err)
			}
			if keep == nil || keep(&item) {
				out = append(out, &item)
			}
		}
		return nil
	})
	return out, err
}

func inWindow(t, after, before time.Time) bool {
	return t.After(after) && !t.After(before)
}

// Environment operations
func (s *BoltStore) CreateEnvironment(env *types.Environment) error {
	return s.put(bucketEnvironments, env.ID, env)
}

func (s *BoltStore) GetEnvironment(id string) (*types.Environment, error) {
	var env types.Environment
	if err := s.get(bucketEnvironments, id, "environment", &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *BoltStore) GetEnvironmentByStage(name, stage string) (*types.Environment, error) {
	envs, err := scan(s, bucketEnvironments, "", func(e *types.Environment) bool {
		return e.Name == name && e.Stage == stage
	})
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("environment %w: %s/%s", ErrNotFound, name, stage)
	}
	return envs[0], nil
}

func (s *BoltStore) ListEnvironments() ([]*types.Environment, error) {
	return scan[types.Environment](s, bucketEnvironments, "", nil)
}

func (s *BoltStore) UpdateEnvironment(env *types.Environment) error {
	return s.CreateEnvironment(env) // Same as create (upsert)
}

func (s *BoltStore) DeleteEnvironment(id string) error {
	return s.delete(bucketEnvironments, id)
}

// Deploy operations
func (s *BoltStore) CreateDeploy(deploy *types.Deploy) error {
	return s.put(bucketDeploys, deploy.ID, deploy)
}

func (s *BoltStore) GetDeploy(id string) (*types.Deploy, error) {
	var deploy types.Deploy
	if err := s.get(bucketDeploys, id, "deploy", &deploy); err != nil {
		return nil, err
	}
	return &deploy, nil
}

func (s *BoltStore) ListDeploysByEnv(envID string, after, before time.Time, limit int) ([]*types.Deploy, error) {
	deploys, err := scan(s, bucketDeploys, "", func(d *types.Deploy) bool {
		return d.EnvID == envID && inWindow(d.StartDate, after, before)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(deploys, func(i, j int) bool {
		return deploys[i].StartDate.Before(deploys[j].StartDate)
	})
	if limit > 0 && len(deploys) > limit {
		deploys = deploys[:limit]
	}
	return deploys, nil
}

func (s *BoltStore) UpdateDeploy(deploy *types.Deploy) error {
	return s.CreateDeploy(deploy)
}

// Build operations
func (s *BoltStore) CreateBuild(build *types.Build) error {
	return s.put(bucketBuilds, build.ID, build)
}

func (s *BoltStore) GetBuild(id string) (*types.Build, error) {
	var build types.Build
	if err := s.get(bucketBuilds, id, "build", &build); err != nil {
		return nil, err
	}
	return &build, nil
}

func (s *BoltStore) ListBuilds(name, branch string, after, before time.Time, limit int) ([]*types.Build, error) {
	builds, err := scan(s, bucketBuilds, "", func(b *types.Build) bool {
		if b.Name != name {
			return false
		}
		if branch != "" && b.Branch != branch {
			return false
		}
		return inWindow(b.PublishDate, after, before)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(builds, func(i, j int) bool {
		return builds[i].PublishDate.Before(builds[j].PublishDate)
	})
	if limit > 0 && len(builds) > limit {
		builds = builds[:limit]
	}
	return builds, nil
}

// TagBuild stores the tag of a build, replacing any previous one
func (s *BoltStore) TagBuild(tag *types.BuildTag) error {
	return s.put(bucketBuildTags, tag.BuildID, tag)
}

func (s *BoltStore) GetBuildTag(buildID string) (*types.BuildTag, error) {
	var tag types.BuildTag
	if err := s.get(bucketBuildTags, buildID, "build tag", &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// Host operations
func (s *BoltStore) CreateHost(host *types.Host) error {
	return s.put(bucketHosts, host.ID, host)
}

func (s *BoltStore) GetHost(id string) (*types.Host, error) {
	var host types.Host
	if err := s.get(bucketHosts, id, "host", &host); err != nil {
		return nil, err
	}
	return &host, nil
}

func (s *BoltStore) ListHostsByEnv(envID string) ([]*types.Host, error) {
	return scan(s, bucketHosts, "", func(h *types.Host) bool {
		return h.BelongsTo(envID)
	})
}

func (s *BoltStore) UpdateHost(host *types.Host) error {
	return s.CreateHost(host)
}

// Agent operations
func (s *BoltStore) UpsertAgent(agent *types.AgentRecord) error {
	return s.put(bucketAgents, agent.Key(), agent)
}

func (s *BoltStore) GetAgent(hostID, envID string) (*types.AgentRecord, error) {
	var agent types.AgentRecord
	if err := s.get(bucketAgents, types.AgentKey(hostID, envID), "agent", &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) ListAgentsByHost(hostID string) ([]*types.AgentRecord, error) {
	return scan[types.AgentRecord](s, bucketAgents, types.AgentKey(hostID, ""), nil)
}

func (s *BoltStore) ListAgentsByEnv(envID string) ([]*types.AgentRecord, error) {
	return scan(s, bucketAgents, "", func(a *types.AgentRecord) bool {
		return a.EnvID == envID
	})
}

func (s *BoltStore) DeleteAgent(hostID, envID string) error {
	return s.delete(bucketAgents, types.AgentKey(hostID, envID))
}

// Promotion policy operations
func (s *BoltStore) SavePromotePolicy(policy *types.PromotePolicy) error {
	return s.put(bucketPromotes, policy.EnvID, policy)
}

func (s *BoltStore) GetPromotePolicy(envID string) (*types.PromotePolicy, error) {
	var policy types.PromotePolicy
	if err := s.get(bucketPromotes, envID, "promote policy", &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (s *BoltStore) ListPromotePolicies() ([]*types.PromotePolicy, error) {
	return scan[types.PromotePolicy](s, bucketPromotes, "", nil)
}
