package cluster

import (
	"github.com/gridpipe/gridpipe/pipeline"
)

// pipelineSubmitter adapts a Cluster to pipeline.Submitter.
type pipelineSubmitter struct {
	c Cluster
}

// PipelineSubmitter returns a pipeline.Submitter that submits each pipeline
// tool to the given cluster:
//
//	handles, err := p.Submit(cluster.PipelineSubmitter(c))
func PipelineSubmitter(c Cluster) pipeline.Submitter {
	return &pipelineSubmitter{c: c}
}

func (s *pipelineSubmitter) Submit(pt *pipeline.PipelineTool) (pipeline.Handle, error) {
	return s.c.Submit(pt)
}
