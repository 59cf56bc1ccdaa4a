/*
包 structured 从模型的自由文本回复中提取结构化内容。

主要能力：

  - StripCodeFence：去掉 Markdown 代码围栏，返回内部文本
  - ParseJSON[T]：去围栏后解码 JSON，并检查必填字段
  - ExtractJSONObject：在夹杂说明文字的回复中定位第一个完整 JSON 对象
  - ExtractSuggestion：提取“建议为：…”形式的单句建议

解析失败统一返回 *ParseError，调用方可以把 Raw 原样交回对话层用于重试。
*/
package structured
