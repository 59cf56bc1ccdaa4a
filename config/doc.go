// Package config 提供 agents 的配置加载。
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（前缀 AGENTS_）。
// 每个配置段都可以转换成对应组件的配置结构。
package config
