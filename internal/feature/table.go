package feature

import (
	"sort"
	"strings"

	"entitlement-server/internal/entitlement"
	"entitlement-server/internal/model"
)

const (
	OptimizeTitle                       = "optimizeTitle"
	ApplyTemplate                       = "applyTemplate"
	AddWatermark                        = "addWatermark"
	GenerateMarketingImage              = "generateMarketingImage"
	MapVariants                         = "mapVariants"
	ProcessSkuTable                     = "processSkuTable"
	AdjustPriceAndStock                 = "adjustPriceAndStock"
	TranslateContent                    = "translateContent"
	UploadAllQualificationImageByPolicy = "uploadAllQualificationImageByPolicy"
	SelectRegionalPricingTemplate       = "selectRegionalPricingTemplate"
	RunAllSteps                         = "runAllSteps"
	RunAliexpressCategoryAllSteps       = "runAliexpressCategoryAllSteps"
	RunSelectedSteps                    = "runSelectedSteps"
)

var defaultPermissions = map[string]model.Tier{
	OptimizeTitle:                       model.TierFree,
	ApplyTemplate:                       model.TierFree,
	AddWatermark:                        model.TierFree,
	GenerateMarketingImage:              model.TierBasic,
	MapVariants:                         model.TierBasic,
	ProcessSkuTable:                     model.TierBasic,
	AdjustPriceAndStock:                 model.TierPremium,
	TranslateContent:                    model.TierPremium,
	UploadAllQualificationImageByPolicy: model.TierPremium,
	SelectRegionalPricingTemplate:       model.TierPremium,
	RunAllSteps:                         model.TierPremium,
	RunAliexpressCategoryAllSteps:       model.TierPremium,
	RunSelectedSteps:                    model.TierPremium,
}

// Table 功能名到所需等级的映射，构造后只读，可被多个 goroutine 共享。
type Table struct {
	required map[string]model.Tier
}

// DefaultTable 返回内置的功能权限表。
func DefaultTable() *Table {
	t, _ := NewTable(nil)
	return t
}

// NewTable 以内置权限表为基础应用 overrides。
// 配置加载会把键名转成小写，所以覆盖项按功能名大小写不敏感地匹配内置功能，
// 匹配不到的按原样作为新功能加入。
func NewTable(overrides map[string]string) (*Table, error) {
	required := make(map[string]model.Tier, len(defaultPermissions)+len(overrides))
	lower := make(map[string]string, len(defaultPermissions))
	for name, tier := range defaultPermissions {
		required[name] = tier
		lower[strings.ToLower(name)] = name
	}

	for name, tierName := range overrides {
		tier, err := entitlement.ParseTier(tierName)
		if err != nil {
			return nil, err
		}
		if canonical, ok := lower[strings.ToLower(name)]; ok {
			name = canonical
		}
		required[name] = tier
	}
	return &Table{required: required}, nil
}

func (t *Table) Required(feature string) (model.Tier, bool) {
	tier, ok := t.required[feature]
	return tier, ok
}

// Features 返回按名称排序的全部功能名。
func (t *Table) Features() []string {
	names := make([]string, 0, len(t.required))
	for name := range t.required {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
