// Package batch 对 CSV 中的每一行运行一个处理单元，并把结果按外部 ID 写成 JSON 记录。
//
// Runner 以有限并发执行单元，单个单元失败不会中断整个批次；
// EntityPipeline 是一个具体的单元实现：实体抽取 → 局部上下文 → 概念泛化 → 分类。
package batch
