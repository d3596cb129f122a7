package code

var (
	Success = NewSuss(1, lang{en: "Success", zhCN: "成功"})

	Failed                    = NewError(500, lang{en: "Internal error", zhCN: "服务内部错误"})
	ErrorInvalidParams        = NewError(400, lang{en: "Invalid parameters", zhCN: "参数错误"})
	ErrorNotUserAuthToken     = NewError(401, lang{en: "Not authorized", zhCN: "未授权"})
	ErrorInvalidUserAuthToken = NewError(403, lang{en: "Invalid authorization token", zhCN: "授权令牌无效"})
	ErrorDocumentNotFound     = NewError(404, lang{en: "Document not found", zhCN: "文档不存在"})
	ErrorUnknownAction        = NewError(405, lang{en: "Unknown action", zhCN: "未知操作"})
	ErrorInvalidPath          = NewError(406, lang{en: "Invalid document path", zhCN: "文档路径无效"})
	ErrorInvalidUpdate        = NewError(409, lang{en: "Invalid field update", zhCN: "字段更新无效"})
	ErrorSubscriptionNotFound = NewError(410, lang{en: "Subscription not found", zhCN: "订阅不存在"})
	ErrorNotFoundAPI          = NewError(411, lang{en: "API not found", zhCN: "接口不存在"})
	ErrorTooManyRequests      = NewError(429, lang{en: "Too many requests", zhCN: "请求过于频繁"})
	ErrorDocumentStore        = NewError(502, lang{en: "Document store failure", zhCN: "文档存储失败"})
	ErrorStoreClosed          = NewError(503, lang{en: "Document store closed", zhCN: "文档存储已关闭"})
)
