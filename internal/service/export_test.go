package service

import "time"

// Clock hooks for tests in package service_test.

func (s *RegistryService) SetNow(now func() time.Time)     { s.now = now }
func (s *ConsensusService) SetNow(now func() time.Time)    { s.now = now }
func (s *MemoryService) SetNow(now func() time.Time)       { s.now = now }
func (s *OrchestratorService) SetNow(now func() time.Time) { s.now = now }
