// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package kv

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/log"
)

const fileMagic uint32 = 0x50414756 // "PAGV"

// pendingFreeBatchSize is the buffering threshold: FreePage batch-processes
// the pending-free list once it reaches this size.
const pendingFreeBatchSize = 100

// Config configures a Manager. Zero value is not usable; use DefaultConfig.
type Config struct {
	PageSize    int
	MaxVersions uint64
}

func DefaultConfig() Config {
	return Config{PageSize: DefaultPageSize, MaxVersions: 16}
}

// Manager is the non-thread-safe Page Manager core. Callers that need
// concurrent access should use SyncManager, which wraps a Manager with the
// single exclusive-writer/many-reader lock.
type Manager struct {
	file        *os.File
	flock       *flock.Flock
	cfg         Config
	nextPageID  uint64
	current     uint64
	maxVersions uint64

	freeLists    map[PageType]*roaring64.Bitmap
	pendingFree  map[PageType]*roaring64.Bitmap
	pageVersions map[uint64][]uint64 // page_id -> ascending version ids
	allocatedNow map[uint64]bool     // page ids allocated during this process's lifetime

	initialized atomic.Bool
	log         log.Logger
}

// Open opens or creates the page file at path. A new file gets an
// initialized header page at page_id 0; an existing file is validated
// against fileMagic and the file-format lock.
func Open(path string, cfg Config, logger log.Logger) (*Manager, error) {
	const op = "PageManager.Open"
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.PageSize <= pageHeaderSize {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxVersions == 0 {
		cfg.MaxVersions = DefaultConfig().MaxVersions
	}

	isNewFile := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNewFile = true
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindIoError, op, err)
	}

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		f.Close()
		return nil, dotvmerr.New(dotvmerr.KindIoError, op, err)
	}
	if !locked {
		f.Close()
		return nil, dotvmerr.New(dotvmerr.KindCorruption, op, os.ErrExist)
	}

	m := &Manager{
		file:         f,
		flock:        fl,
		cfg:          cfg,
		nextPageID:   1, // page_id 0 is always the file header
		current:      1,
		maxVersions:  cfg.MaxVersions,
		freeLists:    newPageTypeBitmaps(),
		pendingFree:  newPageTypeBitmaps(),
		pageVersions: make(map[uint64][]uint64),
		allocatedNow: make(map[uint64]bool),
		log:          logger.New("component", "page_manager"),
	}

	if isNewFile {
		if err := m.writeHeaderPage(); err != nil {
			f.Close()
			fl.Unlock()
			return nil, err
		}
	} else {
		if err := m.readHeaderPage(); err != nil {
			f.Close()
			fl.Unlock()
			return nil, err
		}
	}

	if err := m.ScanForFreePages(); err != nil {
		f.Close()
		fl.Unlock()
		return nil, err
	}

	return m, nil
}

func newPageTypeBitmaps() map[PageType]*roaring64.Bitmap {
	return map[PageType]*roaring64.Bitmap{
		PageHeader: roaring64.New(),
		PageData:   roaring64.New(),
		PageIndex:  roaring64.New(),
		PageFree:   roaring64.New(),
	}
}

func (m *Manager) Close() error {
	m.flock.Unlock()
	return m.file.Close()
}

func (m *Manager) CurrentVersion() uint64 { return m.current }
func (m *Manager) PageSize() int          { return m.cfg.PageSize }

// AllocatePage consults the per-type free list first; on a miss, it extends
// the file with a freshly zeroed page.
func (m *Manager) AllocatePage(pageType PageType) (AllocateResult, error) {
	const op = "PageManager.AllocatePage"

	if fl := m.freeLists[pageType]; fl.GetCardinality() > 0 {
		it := fl.Iterator()
		pageID := it.Next()
		fl.Remove(pageID)
		m.allocatedNow[pageID] = true
		m.recordVersion(pageID)
		if err := m.writePage(&Page{PageID: pageID, PageType: pageType, VersionID: m.current, Data: make([]byte, m.cfg.PageSize-pageHeaderSize)}); err != nil {
			return AllocateResult{}, dotvmerr.New(dotvmerr.KindIoError, op, err)
		}
		return AllocateResult{PageID: pageID, PageType: pageType, IsNew: false, Version: m.current}, nil
	}

	pageID := m.nextPageID
	m.nextPageID++
	m.allocatedNow[pageID] = true
	m.recordVersion(pageID)
	if err := m.writePage(&Page{PageID: pageID, PageType: pageType, VersionID: m.current, Data: make([]byte, m.cfg.PageSize-pageHeaderSize)}); err != nil {
		return AllocateResult{}, dotvmerr.New(dotvmerr.KindIoError, op, err)
	}
	if err := m.writeHeaderPage(); err != nil {
		return AllocateResult{}, err
	}
	return AllocateResult{PageID: pageID, PageType: pageType, IsNew: true, Version: m.current}, nil
}

// FreePage returns pageID to the free list. Pages allocated in the current
// session return immediately; others are buffered and batch-processed once
// the pending-free list reaches pendingFreeBatchSize.
func (m *Manager) FreePage(pageID uint64, pageType PageType) error {
	const op = "PageManager.FreePage"
	if pageID == 0 {
		return dotvmerr.New(dotvmerr.KindInvalidOperation, op, nil)
	}

	if err := m.markPageFree(pageID, pageType); err != nil {
		return dotvmerr.New(dotvmerr.KindIoError, op, err)
	}

	if m.allocatedNow[pageID] {
		m.freeLists[pageType].Add(pageID)
		delete(m.allocatedNow, pageID)
		return nil
	}

	pending := m.pendingFree[pageType]
	pending.Add(pageID)
	total := uint64(0)
	for _, b := range m.pendingFree {
		total += b.GetCardinality()
	}
	if total >= pendingFreeBatchSize {
		m.batchProcessPendingFree()
	}
	return nil
}

func (m *Manager) batchProcessPendingFree() {
	for t, b := range m.pendingFree {
		m.freeLists[t].Or(b)
		b.Clear()
	}
}

// StartNewVersion advances the current version counter.
func (m *Manager) StartNewVersion() (uint64, error) {
	m.current++
	m.cleanupOldVersions()
	if err := m.writeHeaderPage(); err != nil {
		return 0, err
	}
	m.log.Debug("started new version", "version", m.current)
	return m.current, nil
}

// CleanupOldVersions retains only versions in [current-max_versions+1,
// current] per page.
func (m *Manager) CleanupOldVersions() { m.cleanupOldVersions() }

func (m *Manager) cleanupOldVersions() {
	if m.current < m.maxVersions {
		return
	}
	lowWatermark := m.current - m.maxVersions + 1
	for pageID, versions := range m.pageVersions {
		kept := versions[:0:0]
		for _, v := range versions {
			if v >= lowWatermark {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(m.pageVersions, pageID)
		} else {
			m.pageVersions[pageID] = kept
		}
	}
}

// Compact retains, for each page with more than one version, only the
// newest. Returns the number of version entries removed.
func (m *Manager) Compact() (int, error) {
	removed := 0
	for pageID, versions := range m.pageVersions {
		if len(versions) <= 1 {
			continue
		}
		newest := versions[len(versions)-1]
		removed += len(versions) - 1
		m.pageVersions[pageID] = []uint64{newest}
	}
	return removed, nil
}

// ScanForFreePages walks all pages and populates the free list from those
// marked Free.
func (m *Manager) ScanForFreePages() error {
	const op = "PageManager.ScanForFreePages"
	if !m.initialized.CompareAndSwap(false, true) {
		return nil
	}

	info, err := m.file.Stat()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindIoError, op, err)
	}
	totalPages := info.Size() / int64(m.cfg.PageSize)
	for id := int64(1); id < totalPages; id++ {
		page, err := m.readPage(uint64(id))
		if err == io.EOF {
			break
		}
		if err != nil {
			return dotvmerr.New(dotvmerr.KindIoError, op, err)
		}
		if page.PageType == PageFree {
			m.freeLists[PageFree].Add(page.PageID)
		}
	}
	return nil
}

func (m *Manager) recordVersion(pageID uint64) {
	versions := m.pageVersions[pageID]
	if n := len(versions); n == 0 || versions[n-1] != m.current {
		m.pageVersions[pageID] = append(versions, m.current)
	}
}

func (m *Manager) markPageFree(pageID uint64, pageType PageType) error {
	return m.writePage(&Page{PageID: pageID, PageType: PageFree, VersionID: m.current, Data: make([]byte, m.cfg.PageSize-pageHeaderSize)})
}

// --- on-disk encoding ---

func (m *Manager) offsetOf(pageID uint64) int64 { return int64(pageID) * int64(m.cfg.PageSize) }

func (m *Manager) writePage(p *Page) error {
	buf := make([]byte, m.cfg.PageSize)
	binary.LittleEndian.PutUint64(buf[0:8], p.PageID)
	buf[8] = byte(p.PageType)
	binary.LittleEndian.PutUint64(buf[9:17], p.VersionID)
	payload := buf[pageHeaderSize:]
	copy(payload, p.Data)
	checksum := xxhash.Sum64(payload)
	binary.LittleEndian.PutUint64(buf[17:25], checksum)
	_, err := m.file.WriteAt(buf, m.offsetOf(p.PageID))
	return err
}

func (m *Manager) readPage(pageID uint64) (*Page, error) {
	buf := make([]byte, m.cfg.PageSize)
	n, err := m.file.ReadAt(buf, m.offsetOf(pageID))
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < pageHeaderSize {
		return nil, io.EOF
	}
	p := &Page{
		PageID:    binary.LittleEndian.Uint64(buf[0:8]),
		PageType:  PageType(buf[8]),
		VersionID: binary.LittleEndian.Uint64(buf[9:17]),
		Checksum:  binary.LittleEndian.Uint64(buf[17:25]),
		Data:      buf[pageHeaderSize:],
	}
	return p, nil
}

func (m *Manager) writeHeaderPage() error {
	buf := make([]byte, m.cfg.PageSize-pageHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], fileMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.cfg.PageSize))
	binary.LittleEndian.PutUint64(buf[8:16], m.current)
	binary.LittleEndian.PutUint64(buf[16:24], m.maxVersions)
	binary.LittleEndian.PutUint64(buf[24:32], m.nextPageID)
	return m.writePage(&Page{PageID: 0, PageType: PageHeader, VersionID: m.current, Data: buf})
}

func (m *Manager) readHeaderPage() error {
	const op = "PageManager.readHeaderPage"
	p, err := m.readPage(0)
	if err != nil {
		return dotvmerr.New(dotvmerr.KindIoError, op, err)
	}
	magic := binary.LittleEndian.Uint32(p.Data[0:4])
	if magic != fileMagic {
		return dotvmerr.New(dotvmerr.KindCorruption, op, nil)
	}
	m.cfg.PageSize = int(binary.LittleEndian.Uint32(p.Data[4:8]))
	m.current = binary.LittleEndian.Uint64(p.Data[8:16])
	m.maxVersions = binary.LittleEndian.Uint64(p.Data[16:24])
	m.nextPageID = binary.LittleEndian.Uint64(p.Data[24:32])
	return nil
}

// SyncManager wraps Manager with the single exclusive-writer/many-reader
// lock: writers take the lock exclusively, readers take it shared. Lock
// poisoning (a panic while holding the write
// lock) surfaces as Corruption on the next call, matching the failure
// model, instead of silently recovering into an inconsistent free list.
type SyncManager struct {
	mu      sync.RWMutex
	m       *Manager
	poisoned atomic.Bool
}

func NewSyncManager(m *Manager) *SyncManager { return &SyncManager{m: m} }

func (s *SyncManager) checkPoison(op string) error {
	if s.poisoned.Load() {
		return dotvmerr.New(dotvmerr.KindCorruption, op, nil)
	}
	return nil
}

func (s *SyncManager) withWrite(op string, fn func() error) error {
	if err := s.checkPoison(op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.poisoned.Store(true)
			panic(r)
		}
	}()
	return fn()
}

func (s *SyncManager) AllocatePage(pageType PageType) (res AllocateResult, err error) {
	err = s.withWrite("SyncManager.AllocatePage", func() error {
		res, err = s.m.AllocatePage(pageType)
		return err
	})
	return
}

func (s *SyncManager) FreePage(pageID uint64, pageType PageType) error {
	return s.withWrite("SyncManager.FreePage", func() error { return s.m.FreePage(pageID, pageType) })
}

func (s *SyncManager) StartNewVersion() (v uint64, err error) {
	err = s.withWrite("SyncManager.StartNewVersion", func() error {
		v, err = s.m.StartNewVersion()
		return err
	})
	return
}

func (s *SyncManager) Compact() (n int, err error) {
	err = s.withWrite("SyncManager.Compact", func() error {
		n, err = s.m.Compact()
		return err
	})
	return
}

func (s *SyncManager) CurrentVersion() uint64 {
	if err := s.checkPoison("SyncManager.CurrentVersion"); err != nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m.CurrentVersion()
}

func (s *SyncManager) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Close()
}
