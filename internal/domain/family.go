package domain

import (
	"fmt"
	"strings"
)

// FamilyKind selects a screening rule family.
type FamilyKind int

const (
	FamilyProduct FamilyKind = iota + 1
	FamilyAdTargeting
	FamilyBidPosition
	FamilySearchTerm
	FamilyKeyword
	FamilyInvalidCampaign
	FamilySpendDecline
)

// Source sheets in the advertising bulk export.
const (
	SheetCampaigns   = "商品推广活动"
	SheetSearchTerms = "商品推广搜索词报告"
)

type familyInfo struct {
	slug    string
	display string
	sheet   string
}

var families = map[FamilyKind]familyInfo{
	FamilyProduct:         {"product", "SP商品筛选", SheetCampaigns},
	FamilyAdTargeting:     {"ad-targeting", "SP投放商品筛选", SheetCampaigns},
	FamilyBidPosition:     {"bid-position", "SP竞价调整", SheetCampaigns},
	FamilySearchTerm:      {"search-term", "SP搜索词筛选", SheetSearchTerms},
	FamilyKeyword:         {"keyword", "SP投放关键词筛选", SheetCampaigns},
	FamilyInvalidCampaign: {"invalid-campaign", "SP无效筛选", SheetCampaigns},
	FamilySpendDecline:    {"spend-decline", "SP花费下降", SheetCampaigns},
}

// AllFamilies lists every family in declaration order.
func AllFamilies() []FamilyKind {
	return []FamilyKind{
		FamilyProduct,
		FamilyAdTargeting,
		FamilyBidPosition,
		FamilySearchTerm,
		FamilyKeyword,
		FamilyInvalidCampaign,
		FamilySpendDecline,
	}
}

// String returns the URL-safe slug.
func (k FamilyKind) String() string {
	if info, ok := families[k]; ok {
		return info.slug
	}
	return fmt.Sprintf("family(%d)", int(k))
}

// DisplayName returns the operator-facing name, also used as the result file suffix.
func (k FamilyKind) DisplayName() string {
	return families[k].display
}

// Sheet returns the export sheet the family reads.
func (k FamilyKind) Sheet() string {
	return families[k].sheet
}

// NeedsPrevious reports whether the family compares two periods.
func (k FamilyKind) NeedsPrevious() bool {
	return k == FamilySpendDecline
}

// Valid reports whether k names a known family.
func (k FamilyKind) Valid() bool {
	_, ok := families[k]
	return ok
}

// ParseFamily accepts a slug or a display name.
func ParseFamily(s string) (FamilyKind, error) {
	s = strings.TrimSpace(s)
	for kind, info := range families {
		if strings.EqualFold(s, info.slug) || s == info.display {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown screening family %q", s)
}

// ResultFileName names the output file for a screening of the given input.
func ResultFileName(kind FamilyKind, input string) string {
	base := input
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	if base == "" {
		base = "result"
	}
	return base + "_" + kind.DisplayName() + ".csv"
}
