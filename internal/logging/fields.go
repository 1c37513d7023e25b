package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ImageFields 提供缓存键相关字段，供缓存与 HTTP 层日志复用。
func ImageFields(action, category, owner, image string) logrus.Fields {
	fields := logrus.Fields{
		"action":   action,
		"category": category,
		"owner":    owner,
	}
	if image != "" {
		fields["image"] = image
	}
	return fields
}

// Discard 返回丢弃所有输出的 logger，供测试与未注入 logger 的组件使用。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Component 为某个子系统派生带 component 字段的 logger。
func Component(logger logrus.FieldLogger, name string) logrus.FieldLogger {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField("component", name)
}
