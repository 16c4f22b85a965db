package xlease

// Option 定义存储的通用配置选项。
type Option func(*options)

type options struct {
	// closeClients 为 true 时 Close 会关闭底层客户端。
	// 默认 false：客户端由调用者创建，也由调用者关闭。
	closeClients bool
}

func defaultOptions() *options {
	return &options{}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// WithCloseClients 设置 Close 时是否一并关闭底层客户端。
// 适用于客户端由 Store 的创建方（如 bootstrap）独占持有的场景。
func WithCloseClients(b bool) Option {
	return func(o *options) {
		o.closeClients = b
	}
}
