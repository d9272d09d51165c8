package syncback

import "fmt"

// Stats summarizes one syncback run.
type Stats struct {
	InstancesProcessed int
	FilesWritten       int
	FilesSkipped       int
	FilesRemoved       int
	Errors             int
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d instances, %d written, %d unchanged, %d removed, %d errors",
		s.InstancesProcessed, s.FilesWritten, s.FilesSkipped, s.FilesRemoved, s.Errors)
}
