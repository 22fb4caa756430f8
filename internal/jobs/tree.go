package jobs

// Tree returns a job either standalone or, when fromRoot is set, resolved to
// its root and augmented with every descendant reachable through parent
// links. The whole read happens under one lock so a chained child can never
// appear without its parent. Parent links are assigned once at creation, so
// the structure is acyclic by construction.
func (s *Store) Tree(id string, fromRoot bool) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, NewError(ErrNotFound, "no such job").WithContext("job_id", id)
	}
	if !fromRoot {
		return &Node{Job: *cloneJob(job)}, nil
	}

	root := job
	for root.ParentID != "" {
		parent, ok := s.jobs[root.ParentID]
		if !ok {
			// The parent has been pruned; the highest ancestor still
			// retained acts as the root.
			break
		}
		root = parent
	}
	return s.buildNodeLocked(root), nil
}

func (s *Store) buildNodeLocked(job *Job) *Node {
	node := &Node{Job: *cloneJob(job)}
	for _, childID := range s.children[job.ID] {
		child, ok := s.jobs[childID]
		if !ok {
			continue
		}
		node.Children = append(node.Children, s.buildNodeLocked(child))
	}
	return node
}
