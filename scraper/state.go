package scraper

import (
	"fmt"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Admission is the outcome of admitting one page batch.
type Admission struct {
	Admitted   []*models.Product
	Duplicates int
	// OverQuota counts candidates dropped because the ceiling was reached.
	OverQuota int
	// Exhausted is set when every candidate was a known identity and something
	// had already been saved; the branch that produced the page should stop.
	Exhausted bool
}

// CrawlState tracks what a crawl has seen and saved. All methods are safe for
// concurrent use; Admit is the only way savedCount grows.
type CrawlState struct {
	mu          sync.Mutex
	maxProducts int // 0 means unbounded
	saved       int
	pageKeys    *lru.Cache[string, struct{}]
	seenIDs     map[string]struct{}
}

// NewCrawlState returns an empty state. pageKeyCapacity bounds the processed
// page set; the oldest keys are forgotten first.
func NewCrawlState(maxProducts, pageKeyCapacity int) (*CrawlState, error) {
	if pageKeyCapacity <= 0 {
		pageKeyCapacity = 1
	}
	keys, err := lru.New[string, struct{}](pageKeyCapacity)
	if err != nil {
		return nil, fmt.Errorf("page key cache: %w", err)
	}
	return &CrawlState{
		maxProducts: maxProducts,
		pageKeys:    keys,
		seenIDs:     make(map[string]struct{}),
	}, nil
}

// PageKey identifies a listing page by URL and page number.
func PageKey(url string, pageNo int) string {
	return url + "#" + strconv.Itoa(pageNo)
}

// ClaimPage records key as processed. It returns false when the page was
// already claimed.
func (s *CrawlState) ClaimPage(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageKeys.Contains(key) {
		return false
	}
	s.pageKeys.Add(key, struct{}{})
	return true
}

// Admit filters products by identity and quota, then hands the admitted ones to
// emit while still holding the lock, so sink order matches admission order.
// Nothing is committed when emit fails. emit may only queue the products, so
// the saved count tracks admission, not persistence.
func (s *CrawlState) Admit(products []*models.Product, emit func(...*models.Product) error) (Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var adm Admission
	batchIDs := make(map[string]struct{})
	for _, p := range products {
		if p == nil {
			continue
		}
		id := p.ID()
		if id != "" {
			_, seen := s.seenIDs[id]
			_, inBatch := batchIDs[id]
			if seen || inBatch {
				adm.Duplicates++
				continue
			}
		}
		if s.maxProducts > 0 && s.saved+len(adm.Admitted) >= s.maxProducts {
			adm.OverQuota++
			continue
		}
		if id != "" {
			batchIDs[id] = struct{}{}
		}
		adm.Admitted = append(adm.Admitted, p)
	}

	candidates := adm.Duplicates + adm.OverQuota + len(adm.Admitted)
	adm.Exhausted = candidates > 0 && adm.Duplicates == candidates && s.saved > 0

	if len(adm.Admitted) == 0 {
		return adm, nil
	}
	if emit != nil {
		if err := emit(adm.Admitted...); err != nil {
			return Admission{}, err
		}
	}
	for id := range batchIDs {
		s.seenIDs[id] = struct{}{}
	}
	s.saved += len(adm.Admitted)
	return adm, nil
}

// Saved returns the number of admitted products.
func (s *CrawlState) Saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// QuotaReached reports whether the product ceiling has been hit.
func (s *CrawlState) QuotaReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxProducts > 0 && s.saved >= s.maxProducts
}

// ResetIdentities clears processed pages and seen product IDs for a restart.
// The saved count and ceiling are kept.
func (s *CrawlState) ResetIdentities() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageKeys.Purge()
	s.seenIDs = make(map[string]struct{})
}
