package visualize

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/interfaces"
	"github.com/ternarybob/nyushi/internal/models"
)

// Service renders a task's link tree as an interactive HTML report and
// files it in the blob store, one report for the raw tree and one for
// the pruned tree
type Service struct {
	catalog interfaces.Catalog
	blobs   interfaces.BlobStore
	logger  arbor.ILogger
}

// NewService creates a visualization service
func NewService(catalog interfaces.Catalog, blobs interfaces.BlobStore, logger arbor.ILogger) *Service {
	return &Service{
		catalog: catalog,
		blobs:   blobs,
		logger:  logger,
	}
}

// RenderTask writes both report kinds for the task's current node set
func (s *Service) RenderTask(ctx context.Context, task *models.Task, nodes []*models.Node) error {
	for _, kind := range []models.VisualizationKind{models.VisualizationRaw, models.VisualizationPruned} {
		if err := s.renderKind(ctx, task, nodes, kind); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) renderKind(ctx context.Context, task *models.Task, nodes []*models.Node, kind models.VisualizationKind) error {
	included := nodes
	if kind == models.VisualizationPruned {
		included = keptNodes(nodes)
	}

	root := buildTreeData(included)
	if root == nil {
		s.logger.Debug().
			Str("task_id", task.ID).
			Str("kind", string(kind)).
			Msg("No nodes to visualize")
		return nil
	}

	tree := charts.NewTree()
	tree.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("%s (%s)", task.SchoolName, kind),
			Width:     "1400px",
			Height:    "900px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    task.SchoolName,
			Subtitle: task.URL,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	tree.AddSeries("links", []opts.TreeData{*root},
		charts.WithTreeOpts(opts.TreeChart{
			Layout:           "orthogonal",
			Orient:           "LR",
			InitialTreeDepth: -1,
		}),
	)

	var buf bytes.Buffer
	if err := tree.Render(&buf); err != nil {
		return fmt.Errorf("failed to render %s tree for task %s: %w", kind, task.ID, err)
	}

	blobKey := fmt.Sprintf("task_%s/visualization_%s.html", task.ID, kind)
	if _, err := s.blobs.Write(ctx, blobKey, &buf); err != nil {
		return fmt.Errorf("failed to store %s tree report: %w", kind, err)
	}

	if err := s.catalog.SaveVisualization(ctx, task.ID, kind, blobKey); err != nil {
		return fmt.Errorf("failed to record %s visualization: %w", kind, err)
	}

	s.logger.Debug().
		Str("task_id", task.ID).
		Str("kind", string(kind)).
		Int("nodes", len(included)).
		Msg("Tree report rendered")

	return nil
}

// keptNodes filters to retained nodes whose ancestors are also retained,
// so the pruned report shows only complete chains from the root
func keptNodes(nodes []*models.Node) []*models.Node {
	byIndex := make(map[int]*models.Node, len(nodes))
	for _, node := range nodes {
		byIndex[node.NodeIndex] = node
	}

	visible := func(node *models.Node) bool {
		for node != nil {
			if !node.IsPruned {
				return false
			}
			if node.ParentIndex == models.RootParentIndex {
				return true
			}
			node = byIndex[node.ParentIndex]
		}
		return false
	}

	var kept []*models.Node
	for _, node := range nodes {
		if visible(node) {
			kept = append(kept, node)
		}
	}
	return kept
}

// buildTreeData assembles the echarts tree from node parent indexes.
// Returns nil when the node set has no root.
func buildTreeData(nodes []*models.Node) *opts.TreeData {
	items := make(map[int]*opts.TreeData, len(nodes))
	for _, node := range nodes {
		label := node.Title
		if label == "" {
			label = node.URL
		}
		if len(label) > 60 {
			label = label[:60]
		}
		if node.IsFile {
			label = "[" + node.Extension + "] " + label
		}
		items[node.NodeIndex] = &opts.TreeData{Name: label}
	}

	var root *opts.TreeData
	for _, node := range nodes {
		item := items[node.NodeIndex]
		if node.ParentIndex == models.RootParentIndex {
			root = item
			continue
		}
		if parent, ok := items[node.ParentIndex]; ok {
			parent.Children = append(parent.Children, item)
		}
	}
	return root
}
