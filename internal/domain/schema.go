package domain

import "github.com/opensource-finance/adscreen/internal/table"

// Column names of the advertising bulk export.
const (
	ColEntityLevel   = "实体层级"
	ColCampaignState = "广告活动状态（仅供参考）"
	ColAdGroupState  = "广告组状态（仅供参考）"
	ColState         = "状态"
	ColPortfolio     = "广告组合名称（仅供参考）"
	ColCampaignName  = "广告活动名称"
	ColClicks        = "点击量"
	ColOrders        = "订单数量"
	ColSpend         = "花费"
	ColClickRate     = "点击率"
	ColConversion    = "转化率"
	ColACOS          = "ACOS"
	ColBid           = "竞价"
	ColPercentage    = "百分比"
	ColStartDate     = "开始日期"
	ColAction        = "操作"
)

// Entity level tags.
const (
	EntityCampaign         = "广告活动"
	EntityProductAd        = "商品广告"
	EntityProductTargeting = "商品定向"
	EntityBidAdjustment    = "竞价调整"
	EntityKeyword          = "关键词"
)

// Entity states and actions.
const (
	StateEnabled = "已启用"
	StatePaused  = "已暂停"
	ActionUpdate = "Update"
)

// ColumnKinds tells the CSV reader how to parse known columns.
var ColumnKinds = map[string]table.Kind{
	ColClicks:     table.KindInt,
	ColOrders:     table.KindInt,
	ColSpend:      table.KindFloat,
	ColClickRate:  table.KindFloat,
	ColConversion: table.KindFloat,
	ColACOS:       table.KindFloat,
	ColBid:        table.KindFloat,
	ColPercentage: table.KindFloat,
	ColStartDate:  table.KindDate,
}
