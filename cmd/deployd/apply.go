package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cuemby/deployd/pkg/storage"
	"github.com/cuemby/deployd/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a resource file to the local store",
	Long: `Apply deployd resources from a YAML file. A file may hold several
documents separated by "---".

Examples:
  # Register an environment and its promote policy
  deployd apply -f prod.yaml

  # Load a whole fleet fixture
  deployd apply -f fleet.yaml --data-dir /var/lib/deployd`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource is one document of a resource file
type Resource struct {
	Kind     string                 `yaml:"kind"`
	Metadata ResourceMetadata       `yaml:"metadata"`
	Spec     map[string]interface{} `yaml:"spec"`
}

// ResourceMetadata names a resource. The name is the record id.
type ResourceMetadata struct {
	Name string `yaml:"name"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	resources, err := readResources(filename)
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	reports, err := applyResources(store, resources, os.Stdout)
	if err != nil {
		return err
	}
	if len(reports) > 0 {
		fmt.Printf("Skipped %d report(s); use 'deployd ping' to send them\n", len(reports))
	}
	return nil
}

// readResources decodes every document of a YAML file
func readResources(filename string) ([]*Resource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	var resources []*Resource
	dec := yaml.NewDecoder(f)
	for {
		var r Resource
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if r.Kind == "" {
			continue
		}
		resources = append(resources, &r)
	}
	return resources, nil
}

// applyResources writes every resource to store, printing progress to out,
// and returns the ping reports, which are not stored
func applyResources(store storage.Store, resources []*Resource, out io.Writer) ([]*types.PingReport, error) {
	var reports []*types.PingReport
	for _, r := range resources {
		if r.Kind == "Report" {
			reports = append(reports, reportFrom(r))
			continue
		}
		if err := applyResource(store, r); err != nil {
			return nil, fmt.Errorf("%s %s: %w", r.Kind, r.Metadata.Name, err)
		}
		fmt.Fprintf(out, "✓ %s applied: %s\n", r.Kind, r.Metadata.Name)
	}
	return reports, nil
}

func applyResource(store storage.Store, r *Resource) error {
	name := r.Metadata.Name
	spec := r.Spec

	switch r.Kind {
	case "Environment":
		if name == "" {
			return fmt.Errorf("metadata.name is required")
		}
		env := &types.Environment{
			ID:             name,
			Name:           getString(spec, "name", name),
			Stage:          getString(spec, "stage", ""),
			DeployID:       getString(spec, "deployId", ""),
			DeployType:     types.DeployType(getString(spec, "deployType", "")),
			State:          types.EnvState(getString(spec, "state", string(types.EnvStateNormal))),
			Priority:       types.DeployPriority(getString(spec, "priority", string(types.PriorityNormal))),
			SystemPriority: getIntPtr(spec, "systemPriority"),
			MaxParallel:    getInt(spec, "maxParallel", 0),
			MaxParallelPct: getInt(spec, "maxParallelPct", 0),
			StuckThreshold: getInt(spec, "stuckThreshold", 0),
			SuccessRatio:   getInt(spec, "successRatio", 0),
			BuildName:      getString(spec, "buildName", ""),
			Branch:         getString(spec, "branch", ""),
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		return store.UpdateEnvironment(env)

	case "Build":
		return store.CreateBuild(&types.Build{
			ID:          name,
			Name:        getString(spec, "name", ""),
			ArtifactURL: getString(spec, "artifactUrl", ""),
			Branch:      getString(spec, "branch", ""),
			Commit:      getString(spec, "commit", ""),
			CommitDate:  getTime(spec, "commitDate"),
			PublishDate: getTime(spec, "publishDate"),
		})

	case "BuildTag":
		return store.TagBuild(&types.BuildTag{
			BuildID:   name,
			Value:     types.TagValue(getString(spec, "value", string(types.TagBadBuild))),
			Comment:   getString(spec, "comment", ""),
			CreatedAt: time.Now(),
		})

	case "Deploy":
		return store.CreateDeploy(&types.Deploy{
			ID:               name,
			EnvID:            getString(spec, "envId", ""),
			BuildID:          getString(spec, "buildId", ""),
			Type:             types.DeployType(getString(spec, "type", string(types.DeployTypeRegular))),
			State:            types.DeployState(getString(spec, "state", string(types.DeployStateRunning))),
			AcceptanceStatus: types.AcceptanceStatus(getString(spec, "acceptanceStatus", string(types.AcceptancePendingDeploy))),
			FromDeploy:       getString(spec, "fromDeploy", ""),
			Alias:            getString(spec, "alias", ""),
			Description:      getString(spec, "description", ""),
			Operator:         getString(spec, "operator", ""),
			StartDate:        getTime(spec, "startDate"),
			LastUpdate:       time.Now(),
		})

	case "Host":
		return store.UpdateHost(&types.Host{
			ID:     name,
			Name:   getString(spec, "name", name),
			IP:     getString(spec, "ip", ""),
			EnvIDs: getStrings(spec, "envIds"),
		})

	case "Agent":
		return store.UpsertAgent(&types.AgentRecord{
			HostID:      getString(spec, "hostId", ""),
			HostName:    getString(spec, "hostName", ""),
			EnvID:       getString(spec, "envId", ""),
			DeployID:    getString(spec, "deployId", ""),
			Stage:       types.DeployStage(getString(spec, "stage", string(types.StageUnknown))),
			State:       types.AgentState(getString(spec, "state", string(types.AgentStateNormal))),
			Status:      types.AgentStatus(getString(spec, "status", string(types.StatusUnknown))),
			LastErrNo:   getInt(spec, "lastErrNo", 0),
			FailCount:   getInt(spec, "failCount", 0),
			FirstDeploy: getBool(spec, "firstDeploy", false),
			StartDate:   getTime(spec, "startDate"),
			LastUpdate:  time.Now(),
		})

	case "PromotePolicy":
		return store.SavePromotePolicy(&types.PromotePolicy{
			EnvID:         name,
			Type:          types.PromoteType(getString(spec, "type", string(types.PromoteTypeManual))),
			PredStage:     getString(spec, "predStage", types.BuildStage),
			Schedule:      getString(spec, "schedule", ""),
			Delay:         getInt(spec, "delay", 0),
			QueueSize:     getInt(spec, "queueSize", 1),
			DisablePolicy: types.PromoteDisablePolicy(getString(spec, "disablePolicy", string(types.PromoteDisableManual))),
			FailPolicy:    types.PromoteFailPolicy(getString(spec, "failPolicy", string(types.PromoteFailContinue))),
			LastOperator:  "apply",
			LastUpdate:    time.Now(),
		})

	default:
		return fmt.Errorf("unsupported resource kind: %s", r.Kind)
	}
}

func reportFrom(r *Resource) *types.PingReport {
	spec := r.Spec
	return &types.PingReport{
		EnvID:        getString(spec, "envId", r.Metadata.Name),
		DeployID:     getString(spec, "deployId", ""),
		DeployAlias:  getString(spec, "deployAlias", ""),
		Stage:        types.DeployStage(getString(spec, "stage", string(types.StageUnknown))),
		Status:       types.AgentStatus(getString(spec, "status", string(types.StatusUnknown))),
		ErrorCode:    getInt(spec, "errorCode", 0),
		ErrorMessage: getString(spec, "errorMessage", ""),
		FailCount:    getInt(spec, "failCount", 0),
	}
}

// Helper functions
func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]interface{}, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}

func getIntPtr(m map[string]interface{}, key string) *int {
	if _, ok := m[key]; !ok {
		return nil
	}
	v := getInt(m, key, 0)
	return &v
}

func getBool(m map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return defaultValue
}

func getStrings(m map[string]interface{}, key string) []string {
	list, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, fmt.Sprintf("%v", v))
	}
	return out
}

// getTime accepts YAML timestamps and RFC 3339 strings
func getTime(m map[string]interface{}, key string) time.Time {
	switch v := m[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
