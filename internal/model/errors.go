package model

import "errors"

// 分片子系统错误分类
var (
	// ErrInvalidIdentifier 项目标识不是规范的 UUID，不能用于表名
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrProvisioningConflict 并发建表冲突，可重试
	ErrProvisioningConflict = errors.New("provisioning conflict")
	// ErrPermissionDenied 调用角色没有修改 schema 的权限，不重试
	ErrPermissionDenied = errors.New("permission denied")
	// ErrSourceNotFound 全局表中不存在请求的任务
	ErrSourceNotFound = errors.New("source task not found")
	// ErrDestinationMissing 项目专属表尚未创建
	ErrDestinationMissing = errors.New("project tables not provisioned")
	// ErrNotProvisioned resolveProjectTables 的查找结果
	ErrNotProvisioned = errors.New("project tables not provisioned")
	// ErrAmbiguousSurvivor 无法确定唯一保留行（逻辑错误）
	ErrAmbiguousSurvivor = errors.New("ambiguous survivor")
	// ErrReparentFailed 子任务改挂失败，整个重复组回滚
	ErrReparentFailed = errors.New("reparent failed")
	// ErrStoreUnavailable 存储连接失败，可重试
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound 通用的行不存在
	ErrNotFound = errors.New("not found")
)
